// Command wheelwright runs the autonomous code-improvement orchestrator: it
// wires configuration, the ticket store, the agent exec backend, telemetry,
// and the introspection server around the cycle loop in pkg/orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/robfig/cron/v3"

	"github.com/wheelwright-dev/wheelwright/pkg/adaptive"
	"github.com/wheelwright-dev/wheelwright/pkg/api"
	"github.com/wheelwright-dev/wheelwright/pkg/capability"
	"github.com/wheelwright-dev/wheelwright/pkg/config"
	"github.com/wheelwright-dev/wheelwright/pkg/database"
	"github.com/wheelwright-dev/wheelwright/pkg/execbackend/grpcbackend"
	"github.com/wheelwright-dev/wheelwright/pkg/execbackend/mcpbackend"
	"github.com/wheelwright-dev/wheelwright/pkg/orchestrator"
	"github.com/wheelwright-dev/wheelwright/pkg/sector"
	"github.com/wheelwright-dev/wheelwright/pkg/store"
	"github.com/wheelwright-dev/wheelwright/pkg/telemetry"
	"github.com/wheelwright-dev/wheelwright/pkg/trajectory/bundle"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./.wheelwright"), "path to configuration directory")
	repoDir := flag.String("repo-dir", getEnv("REPO_DIR", "."), "repository root tickets execute against")
	schedule := flag.String("schedule", getEnv("SCHEDULE", ""), "cron expression re-triggering a session; empty runs once")
	otlpEndpoint := flag.String("otlp-endpoint", getEnv("OTLP_ENDPOINT", ""), "OTLP gRPC collector endpoint; empty logs spans to stdout")
	statusAddr := flag.String("status-addr", getEnv("STATUS_ADDR", ""), "bind address for the introspection server; empty disables it")
	execBackendKind := flag.String("exec-backend", getEnv("EXEC_BACKEND", "grpc"), "agent transport: grpc or mcp")
	grpcAddr := flag.String("grpc-addr", getEnv("GRPC_AGENT_ADDR", "localhost:7070"), "agent sidecar address for the grpc exec backend")
	mcpCommand := flag.String("mcp-command", getEnv("MCP_AGENT_COMMAND", ""), "command launching the agent's MCP server, for the mcp exec backend")
	trajectoryBundleRef := flag.String("trajectory-bundle", getEnv("TRAJECTORY_BUNDLE", ""), "OCI reference for a shared trajectory-template bundle")
	totalCycles := flag.Int("total-cycles", 100, "session cycle budget")
	maxPRs := flag.Int("max-prs", 20, "session PR budget")
	sessionDuration := flag.Duration("session-duration", 8*time.Hour, "session wall-clock budget")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("Starting wheelwright orchestrator")

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, *otlpEndpoint, "dev")
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("Connected to PostgreSQL database")

	repo := database.NewTicketRepo(dbClient)

	execBackend, closeExecBackend, err := buildExecBackend(ctx, *execBackendKind, *grpcAddr, *mcpCommand)
	if err != nil {
		log.Fatalf("Failed to build exec backend: %v", err)
	}
	defer closeExecBackend()

	if ref := trajectoryBundleReference(*cfg, *trajectoryBundleRef); ref != "" {
		dest := cfg.Trajectory.Dir
		log.Printf("Pulling trajectory bundle %s into %s", ref, dest)
		if err := bundle.Pull(ctx, ref, dest); err != nil {
			log.Printf("Warning: failed to pull trajectory bundle %s: %v", ref, err)
		}
	}

	sectorStatePath := filepath.Join(cfg.Store.StateDir, "sectors.json")
	sectors, err := loadOrDiscoverSectors(*repoDir, sectorStatePath)
	if err != nil {
		log.Fatalf("Failed to discover sectors: %v", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	events, err := store.OpenEventLog(cfg.Store.StateDir, runID)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}

	runner := &sessionRunner{
		cfg:         *cfg,
		exec:        execBackend,
		repo:        repo,
		repoDir:     *repoDir,
		sectorPath:  sectorStatePath,
		events:      events,
		totalCycles: *totalCycles,
		maxPRs:      *maxPRs,
		duration:    *sessionDuration,
	}

	if *statusAddr != "" {
		srv := api.New(runner, runner.events, dbClient)
		go func() {
			if err := srv.ListenAndServe(ctx, *statusAddr); err != nil {
				log.Printf("introspection server stopped: %v", err)
			}
		}()
		log.Printf("Introspection server listening on %s", *statusAddr)
	}

	if *schedule == "" {
		runner.run(ctx, sectors)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() { runner.run(ctx, sectors) }); err != nil {
		log.Fatalf("Invalid --schedule %q: %v", *schedule, err)
	}
	log.Printf("Running on cron schedule %q", *schedule)
	c.Start()
	<-ctx.Done()
	c.Stop()
}

// trajectoryBundleReference resolves the effective bundle ref: the CLI flag
// overrides the config file's trajectory.bundle_ref.
func trajectoryBundleReference(cfg config.SessionConfig, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return cfg.Trajectory.BundleRef
}

// buildExecBackend dials the configured agent transport. The mcp backend
// spawns the agent as a subprocess speaking MCP over stdio; the grpc
// backend dials an already-running sidecar.
func buildExecBackend(ctx context.Context, kind, grpcAddr, mcpCommand string) (capability.ExecBackend, func(), error) {
	switch kind {
	case "mcp":
		if mcpCommand == "" {
			return nil, nil, fmt.Errorf("--exec-backend=mcp requires --mcp-command")
		}
		client := mcp.NewClient(&mcp.Implementation{Name: "wheelwright", Version: "dev"}, nil)
		transport := &mcp.CommandTransport{Command: exec.Command(mcpCommand)}
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, nil, err
		}
		return mcpbackend.NewBackend(session), func() { _ = session.Close() }, nil
	default:
		backend, err := grpcbackend.Dial(grpcAddr)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { _ = backend.Close() }, nil
	}
}

// loadOrDiscoverSectors resumes persisted sector scan history from a prior
// run, or discovers a fresh sector list on first launch.
func loadOrDiscoverSectors(repoDir, statePath string) ([]types.Sector, error) {
	var sectors []types.Sector
	if err := store.ReadJSON(statePath, &sectors); err == nil && len(sectors) > 0 {
		return sectors, nil
	}
	return sector.DiscoverSectors(repoDir)
}

// sessionRunner owns one orchestrator.Session and drives its cycle loop
// until a stop signal or the caller's context is cancelled; --schedule
// reconstructs one per cron firing.
type sessionRunner struct {
	cfg         config.SessionConfig
	exec        capability.ExecBackend
	repo        capability.TicketRepo
	repoDir     string
	sectorPath  string
	totalCycles int
	maxPRs      int
	duration    time.Duration

	session *orchestrator.Session
	events  *store.EventLog
	history []adaptive.Outcome
}

// Snapshot implements api.StatusProvider.
func (r *sessionRunner) Snapshot() api.SessionSnapshot {
	if r.session == nil {
		return api.SessionSnapshot{}
	}
	return api.SessionSnapshot{
		CycleCount:        r.session.CycleCount,
		SessionPhase:      string(r.session.SessionPhase),
		ShutdownRequested: r.session.ShutdownRequested,
		ShutdownReason:    string(r.session.ShutdownReason),
		OpenPRCount:       r.session.OpenPRCount,
	}
}

func (r *sessionRunner) run(ctx context.Context, sectors []types.Sector) {
	r.session = &orchestrator.Session{
		Budget: orchestrator.Budget{
			TotalCycles:   r.totalCycles,
			MaxPRs:        r.maxPRs,
			StartedAt:     time.Now(),
			TotalDuration: r.duration,
		},
	}

	deps := orchestrator.Deps{
		Exec:    r.exec,
		Repo:    r.repo,
		Events:  r.events,
		Sectors: sectors,
		RepoDir: r.repoDir,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		confidenceDelta := adaptive.CalibrateConfidence(r.session.CycleCount, r.history)
		if pause := r.session.PreCycle(time.Now(), orchestrator.PreCycleInputs{
			BaseMinConfidence: r.cfg.Budget.MinConfidence + confidenceDelta,
			OpenPRFraction:    openPRFraction(r.session.OpenPRCount, r.maxPRs),
		}); pause != nil {
			time.Sleep(pause.SleepFor)
			continue
		}

		cfg := r.cfg
		cfg.Budget.MinConfidence = float64(r.session.EffectiveMinConfidence)

		outcome, err := orchestrator.RunCycle(ctx, deps, cfg, r.session.CycleCount)
		if err != nil {
			log.Printf("cycle %d failed: %v", r.session.CycleCount, err)
		}
		r.recordOutcome(outcome)

		if err := store.WriteJSONAtomic(r.sectorPath, deps.Sectors); err != nil {
			log.Printf("failed to persist sector state: %v", err)
		}

		if reason, stop := r.session.EvaluateStopSignals(outcome, orchestrator.StopSignalInputs{
			PRCapReached:    r.session.OpenPRCount >= r.maxPRs,
			BudgetExhausted: r.session.CycleCount >= r.totalCycles,
		}); stop {
			log.Printf("session stopping: %s", reason)
			return
		}

		time.Sleep(orchestrator.InterCycleSleep(r.session.TrajectoryGuided))
	}
}

func (r *sessionRunner) recordOutcome(outcome orchestrator.CycleOutcome) {
	for range outcome.Succeeded {
		r.history = append(r.history, adaptive.Outcome{Confidence: r.session.EffectiveMinConfidence, Succeeded: true})
	}
	for range outcome.Failed {
		r.history = append(r.history, adaptive.Outcome{Confidence: r.session.EffectiveMinConfidence, Succeeded: false})
	}
}

func openPRFraction(open, maxPRs int) float64 {
	if maxPRs <= 0 {
		return 0
	}
	return float64(open) / float64(maxPRs)
}
