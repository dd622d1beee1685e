package domain

import "time"

// Stage names one step of the orchestration pipeline, in order.
type Stage string

const (
	StageClassifying Stage = "classifying"
	StageRouting     Stage = "routing"
	StageExecuting   Stage = "executing"
	StageGenerating  Stage = "generating"
	StageDone        Stage = "done"
	StageError       Stage = "error"
)

// Terminal reports whether the stage ends a pipeline run.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError
}

// ProgressEvent is a discrete pipeline-stage notification emitted during a
// single orchestration call. Events for one call are strictly ordered and
// never interleave with another call's events.
type ProgressEvent struct {
	Stage    Stage     `json:"stage"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Err      string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// OrchestratorResult is the assembled outcome of one route() invocation.
// Invariant: StageEvents contains exactly one terminal event.
type OrchestratorResult struct {
	ResponseText string          `json:"response_text"`
	Sources      []string        `json:"sources,omitempty"`
	AgentSlug    string          `json:"agent_slug,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	StageEvents  []ProgressEvent `json:"stage_events"`
	TotalMs      int64           `json:"total_ms"`
}

// Succeeded reports whether the run ended with a done event.
func (r *OrchestratorResult) Succeeded() bool {
	for i := len(r.StageEvents) - 1; i >= 0; i-- {
		if r.StageEvents[i].Stage.Terminal() {
			return r.StageEvents[i].Stage == StageDone
		}
	}
	return false
}
