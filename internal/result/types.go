package result

import "time"

// Status is the terminal state of one (task, backend, trial) unit.
type Status string

const (
	StatusScored   Status = "scored"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// ScoredResult is one row of the append-only result table. Index is the
// submission position of the unit within its run; rows are written in
// completion order and re-ordered by index on load.
type ScoredResult struct {
	Index   int    `json:"index"`
	Task    string `json:"task"`
	Backend string `json:"backend"`
	Library string `json:"library"`
	Model   string `json:"model"`
	Trial   int    `json:"trial"`

	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`

	Correctness     float64 `json:"correctness"`
	SchemaViolation bool    `json:"schema_violation,omitempty"`
	Passed          *bool   `json:"passed,omitempty"`

	TTFTMs  int64 `json:"ttft_ms"`
	TotalMs int64 `json:"total_ms"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`

	Output    string `json:"output,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	// Supersedes points at the index of an earlier row this one corrects.
	// Corrections are appended, never rewritten in place.
	Supersedes *int `json:"supersedes,omitempty"`
}

// RunMeta is the run-level manifest persisted alongside the result rows.
type RunMeta struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// EvaluationRun is a loaded run: its manifest plus the result sequence in
// submission order. Sealed runs accept no further appends.
type EvaluationRun struct {
	Meta    RunMeta
	Results []ScoredResult
}

// Sealed reports whether the run was finalized.
func (r *EvaluationRun) Sealed() bool {
	return r.Meta.FinalizedAt != nil
}
