package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// EventLog is an append-only NDJSON event log for one run, rooted at
// <state_dir>/runs/<run_id>/events.ndjson (§6). It is owned exclusively by
// the orchestrator goroutine that drains the worker event channel; all
// writes are serialized by the caller, but EventLog also guards its own
// sequence counter so tests can append concurrently without corrupting seq.
type EventLog struct {
	mu     sync.Mutex
	path   string
	runID  string
	nextSeq int64
}

// OpenEventLog creates (or resumes) the NDJSON log for runID under stateDir.
// Resuming scans the existing file once to recover the next sequence number.
func OpenEventLog(stateDir, runID string) (*EventLog, error) {
	path := filepath.Join(stateDir, "runs", runID, "events.ndjson")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	seq, err := lastSeq(path)
	if err != nil {
		return nil, err
	}

	return &EventLog{path: path, runID: runID, nextSeq: seq + 1}, nil
}

func lastSeq(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var max int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), CapEventByte+4*1024)
	for sc.Scan() {
		var e types.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue // a partial trailing line from a crash; skip it
		}
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max, nil
}

// Append validates and appends a new event, bounding its payload first. The
// event type need not be in the known set: unknown types are still appended
// (recorded, no-op) per §9.
func (l *EventLog) Append(eventType types.EventType, payload map[string]any) (types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := types.Event{
		RunID:     l.runID,
		Seq:       l.nextSeq,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return types.Event{}, fmt.Errorf("marshal event: %w", err)
	}
	if err := BoundPayload(len(line)); err != nil {
		return types.Event{}, err
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return types.Event{}, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return types.Event{}, fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return types.Event{}, fmt.Errorf("sync event log: %w", err)
	}

	l.nextSeq++
	return ev, nil
}

// ReadAll returns every event in the log, skipping (not failing on) any
// malformed trailing line left by a crash mid-write.
func (l *EventLog) ReadAll() ([]types.Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []types.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), CapEventByte+4*1024)
	for sc.Scan() {
		var e types.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, sc.Err()
}
