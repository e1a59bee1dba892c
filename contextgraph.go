// Package contextgraph is the Go client for the ContextGraph decision log.
//
// Every unit of work an agent performs (a task, a tool call, a model
// invocation, a chain execution) is recorded as a decision that moves
// through a small lifecycle: proposed -> approved? -> executed | failed.
// The Client owns the two-call wire protocol (propose, transition) and the
// auto-approve policy; the adapter package translates host framework
// callbacks into those calls.
//
// Usage:
//
//	client, err := contextgraph.New(
//	    contextgraph.WithAPIKey(os.Getenv("CG_API_KEY")),
//	    contextgraph.WithAgentID("my-agent"),
//	)
package contextgraph

// DecisionType classifies the unit of work behind a decision.
type DecisionType string

const (
	CrewExecution  DecisionType = "crew_execution"
	TaskExecution  DecisionType = "task_execution"
	AgentAction    DecisionType = "agent_action"
	ToolUsage      DecisionType = "tool_usage"
	AgentReasoning DecisionType = "agent_reasoning"
	ToolInvocation DecisionType = "tool_invocation"
	ToolExecution  DecisionType = "tool_execution"
	ChainExecution DecisionType = "chain_execution"
	LLMCall        DecisionType = "llm_call"
	ModelCall      DecisionType = "model_call"
)

// Status is a decision lifecycle state. Transitions are monotonic:
// proposed is set once at creation, approved may follow, and exactly one
// terminal state ends the lifecycle.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status ends a decision's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// CanFollow reports whether s is a valid successor of prev.
func (s Status) CanFollow(prev Status) bool {
	switch prev {
	case StatusProposed:
		return s == StatusApproved || s.Terminal()
	case StatusApproved:
		return s.Terminal()
	default:
		return false
	}
}

// Decision mirrors one record in the remote store. The store owns the id
// space; a zero ID means creation failed and the record does not exist.
type Decision struct {
	ID      string         `json:"id,omitempty"`
	AgentID string         `json:"agent_id"`
	Type    DecisionType   `json:"type"`
	Action  string         `json:"action"`
	Status  Status         `json:"status"`
	Context map[string]any `json:"context,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}
