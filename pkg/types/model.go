package types

import "time"

// Sector is a contiguous subtree of source files sharing a purpose
// classification. Exclusively owned by the sector scheduler; the orchestrator
// only ever reads it (§3).
type Sector struct {
	Path                string             `json:"path"`
	Purpose             SectorPurpose      `json:"purpose"`
	FileCount           int                `json:"file_count"`
	ProductionFileCount int                `json:"production_file_count"`
	LastScannedAt       int64              `json:"last_scanned_at"` // epoch ms; 0 = never
	LastScannedCycle    int                `json:"last_scanned_cycle"`
	ScanCount           int                `json:"scan_count"`
	ProposalYield       float64            `json:"proposal_yield"`
	CategoryStats       map[Category]int   `json:"category_stats,omitempty"`
}

// SectorPurpose classifies what a sector's files are for.
type SectorPurpose string

const (
	PurposeProduction SectorPurpose = "production"
	PurposeTests      SectorPurpose = "tests"
	PurposeConfig     SectorPurpose = "config"
	PurposeUnknown    SectorPurpose = "unknown"
)

// CheckInvariant reports whether the sector satisfies
// lastScannedAt > 0 ⇔ scanCount > 0 (§8, invariant 4).
func (s Sector) CheckInvariant() bool {
	return (s.LastScannedAt > 0) == (s.ScanCount > 0)
}

// Lens is a named "formula": categories + style + an extra prompt block,
// combined with a sector to form a scout target (§3).
type Lens struct {
	Name             string     `json:"name"`
	Categories       []Category `json:"categories"`
	Style            string     `json:"style"`
	ExtraPromptBlock string     `json:"extra_prompt_block,omitempty"`
}

// Proposal is an agent-produced improvement record (§3).
type Proposal struct {
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Category             Category   `json:"category"`
	Files                []string   `json:"files"`
	AllowedPaths         []string   `json:"allowed_paths"`
	AcceptanceCriteria   []string   `json:"acceptance_criteria"`
	VerificationCommands []string   `json:"verification_commands"`
	Confidence           int        `json:"confidence"`    // 0-100
	ImpactScore          float64    `json:"impact_score"`  // 0-10
	Rationale            string     `json:"rationale"`
	EstimatedComplexity  Complexity `json:"estimated_complexity"`
}

// WeightedScore is the impact*confidence/100 figure used to break conflicts
// between two proposals touching the same file (§4.D).
func (p Proposal) WeightedScore() float64 {
	return p.ImpactScore * float64(p.Confidence) / 100.0
}

// Ticket is derived from a Proposal and is the unit of work a TicketWorker
// drives through its phases (§3).
type Ticket struct {
	ID                   string       `json:"id"`
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Category             Category     `json:"category"`
	AllowedPaths         []string     `json:"allowed_paths"`
	VerificationCommands []string     `json:"verification_commands"`
	Status               TicketStatus `json:"status"`
	Priority             int          `json:"priority"`
	Confidence           int          `json:"confidence"`
	ImpactScore          float64      `json:"impact_score"`
}

// ScopePolicy is derived per-ticket and bounds what a ticket worker may touch (§3).
type ScopePolicy struct {
	AllowedPaths         []string        `json:"allowed_paths"`
	DeniedPaths          []string        `json:"denied_paths"`
	DeniedPatterns       []string        `json:"denied_patterns"` // regex source, compiled by caller
	MaxFiles             int             `json:"max_files"`
	MaxLines             int             `json:"max_lines"`
	PlanRequired         bool            `json:"plan_required"`
	AutoApprovePatterns  []string        `json:"auto_approve_patterns"`
	RiskAssessment       RiskLevel       `json:"risk_assessment,omitempty"`
	WorktreeRoot         string          `json:"worktree_root,omitempty"`
}

// DefaultDeniedPaths are the glob patterns every ScopePolicy denies
// regardless of category (§6).
var DefaultDeniedPaths = []string{
	".env", ".env.*", "node_modules/**", ".git/**", "secrets/**",
	"*.key", "*.pem", "*credentials*", "*.pfx", "*.p12",
}

// DefaultDeniedPatterns are the regex sources used to detect hardcoded
// credentials inside a diff or file (§6).
var DefaultDeniedPatterns = []string{
	`AKIA[A-Z0-9]{16}`,
	`-----BEGIN [A-Z ]+PRIVATE KEY-----`,
	`ghp_[A-Za-z0-9]{36}`,
	`sk-[A-Za-z0-9]{40,}`,
	`password\s*=\s*["'][^"']{6,}["']`,
}

// Learning is a structured knowledge item accumulated across cycles (§3).
type Learning struct {
	Text       string           `json:"text"`
	Category   string           `json:"category"` // pattern, warning, gotcha, ...
	Tags       []string         `json:"tags,omitempty"`
	Weight     float64          `json:"weight"`
	Structured *LearningDetail  `json:"structured,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// LearningDetail is the optional structured payload of a Learning.
type LearningDetail struct {
	RootCause     string   `json:"root_cause,omitempty"`
	FragilePaths  []string `json:"fragile_paths,omitempty"`
	PatternType   string   `json:"pattern_type,omitempty"`
}

// DecayedWeight applies an exponential age decay (half-life 14 days) to the
// learning's base weight, used by adaptive trust scoring (§4.G).
func (l Learning) DecayedWeight(now time.Time) float64 {
	days := now.Sub(l.CreatedAt).Hours() / 24
	if days <= 0 {
		return l.Weight
	}
	const halfLifeDays = 14.0
	decay := 1.0
	for d := 0.0; d < days; d += halfLifeDays {
		decay *= 0.5
	}
	return l.Weight * decay
}
