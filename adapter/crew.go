package adapter

import (
	"context"

	contextgraph "github.com/contextgraph/contextgraph-go"
	"github.com/contextgraph/contextgraph-go/correlate"
	"github.com/contextgraph/contextgraph-go/serialize"
)

// Caps applied to free-form host text before it is logged. The caps
// differ by field to match what the decision log expects per category.
const (
	crewOutputCap = 5000
	taskOutputCap = 5000
	taskDetailCap = 500
	rosterItemCap = 200
	thoughtCap    = 2000
	toolOutputCap = 2000
)

// CrewObserver binds hosts that key their callbacks by object identity: a
// crew, task, or agent object is passed to both the start and the end
// hook, and the correlation key is derived from its runtime identity.
// Hosts must pass the same (pointer-identical) object to both hooks.
type CrewObserver struct {
	rec    *Recorder
	client *contextgraph.Client
}

// NewCrewObserver creates the observer. All decisions it records carry
// the crew_observer source tag.
func NewCrewObserver(client *contextgraph.Client, table ...*correlate.Table) *CrewObserver {
	tagged := client.WithSource("crew_observer")
	return &CrewObserver{
		rec:    NewRecorder(tagged, table...),
		client: tagged,
	}
}

// Recorder exposes the underlying hooks, mainly for tests.
func (o *CrewObserver) Recorder() *Recorder { return o.rec }

// OnCrewStart records the crew execution decision. Crews exposing Agents
// or Tasks accessors get a roster summary in the decision context.
func (o *CrewObserver) OnCrewStart(ctx context.Context, crew any) {
	key := crewKey(crew)
	fields := map[string]any{
		"crew_name":    displayName(crew, "unnamed_crew"),
		"reference_id": key,
	}
	if r, ok := crew.(interface{ Agents() []any }); ok {
		agents := make([]map[string]any, 0, len(r.Agents()))
		for _, a := range r.Agents() {
			entry := map[string]any{"name": displayName(a, "unknown_agent")}
			if g, ok := a.(interface{ Goal() string }); ok {
				entry["goal"] = g.Goal()
			}
			agents = append(agents, entry)
		}
		fields["agents"] = agents
		fields["num_agents"] = len(agents)
	}
	if r, ok := crew.(interface{ Tasks() []any }); ok {
		tasks := make([]map[string]any, 0, len(r.Tasks()))
		for _, tk := range r.Tasks() {
			entry := map[string]any{}
			if d, ok := tk.(interface{ Description() string }); ok {
				entry["description"] = serialize.Truncate(d.Description(), rosterItemCap)
			}
			tasks = append(tasks, entry)
		}
		fields["tasks"] = tasks
		fields["num_tasks"] = len(tasks)
	}
	mergeAuditContext(fields, crew)
	o.rec.StartWithKey(ctx, key, contextgraph.CrewExecution, "start_crew", fields)
}

// OnCrewEnd marks the crew execution as executed.
func (o *CrewObserver) OnCrewEnd(ctx context.Context, crew any, output any) {
	o.rec.Finish(ctx, crewKey(crew), contextgraph.StatusExecuted, map[string]any{
		"output":  capAny(output, crewOutputCap),
		"success": true,
	})
}

// OnCrewError marks the crew execution as failed.
func (o *CrewObserver) OnCrewError(ctx context.Context, crew any, err error) {
	o.rec.Finish(ctx, crewKey(crew), contextgraph.StatusFailed, map[string]any{
		"error": errMessage(err),
	})
}

// OnTaskStart records a task execution decision keyed by the task's
// identity.
func (o *CrewObserver) OnTaskStart(ctx context.Context, task any, agent any) {
	key := taskKey(task)
	fields := map[string]any{
		"agent_name":   displayName(agent, "unknown_agent"),
		"reference_id": key,
	}
	if d, ok := task.(interface{ Description() string }); ok {
		fields["task_description"] = serialize.Truncate(d.Description(), taskDetailCap)
	}
	if e, ok := task.(interface{ ExpectedOutput() string }); ok {
		fields["expected_output"] = serialize.Truncate(e.ExpectedOutput(), taskDetailCap)
	}
	if g, ok := agent.(interface{ Goal() string }); ok {
		fields["agent_goal"] = g.Goal()
	}
	mergeAuditContext(fields, task)
	o.rec.StartWithKey(ctx, key, contextgraph.TaskExecution, "execute_task", fields)
}

// OnTaskEnd marks the task as executed.
func (o *CrewObserver) OnTaskEnd(ctx context.Context, task any, output any) {
	o.rec.Finish(ctx, taskKey(task), contextgraph.StatusExecuted, map[string]any{
		"output": capAny(output, taskOutputCap),
	})
}

// OnTaskError marks the task as failed.
func (o *CrewObserver) OnTaskError(ctx context.Context, task any, err error) {
	o.rec.Finish(ctx, taskKey(task), contextgraph.StatusFailed, map[string]any{
		"error": errMessage(err),
	})
}

// OnAgentAction records an agent action decision keyed by the agent's
// identity.
func (o *CrewObserver) OnAgentAction(ctx context.Context, agent any, action string, input any) {
	key := actionKey(agent)
	fields := map[string]any{
		"agent_name":   displayName(agent, "unknown_agent"),
		"action":       action,
		"action_input": serialize.Value(input),
		"reference_id": key,
	}
	o.rec.StartWithKey(ctx, key, contextgraph.AgentAction, action, fields)
}

// OnAgentFinish marks the agent's in-flight action as executed.
func (o *CrewObserver) OnAgentFinish(ctx context.Context, agent any, output any) {
	o.rec.Finish(ctx, actionKey(agent), contextgraph.StatusExecuted, map[string]any{
		"output": serialize.Value(output),
	})
}

// OnToolUse records a completed tool call. Tool calls arrive after the
// fact in this convention, so the decision is proposed and immediately
// transitioned to executed.
func (o *CrewObserver) OnToolUse(ctx context.Context, agent any, tool string, input any, output any) {
	if !o.client.LogsToolCalls() {
		return
	}
	id, ok := o.client.Propose(ctx, contextgraph.ToolUsage, tool, map[string]any{
		"agent_name":  displayName(agent, "unknown_agent"),
		"tool_name":   tool,
		"tool_input":  serialize.Value(input),
		"tool_output": capAny(output, toolOutputCap),
	})
	if ok {
		o.client.Transition(ctx, id, contextgraph.StatusExecuted, nil)
	}
}

// OnToolError records a failed tool call, proposed and immediately
// transitioned to failed.
func (o *CrewObserver) OnToolError(ctx context.Context, agent any, tool string, input any, err error) {
	if !o.client.LogsToolCalls() {
		return
	}
	id, ok := o.client.Propose(ctx, contextgraph.ToolUsage, tool, map[string]any{
		"agent_name": displayName(agent, "unknown_agent"),
		"tool_name":  tool,
		"tool_input": serialize.Value(input),
	})
	if ok {
		o.client.Transition(ctx, id, contextgraph.StatusFailed, map[string]any{
			"error": errMessage(err),
		})
	}
}

// OnThought records an agent reasoning step. Thoughts have no terminal
// event; the decision stays proposed.
func (o *CrewObserver) OnThought(ctx context.Context, agent any, thought string) {
	if !o.client.LogsThoughts() {
		return
	}
	o.client.Propose(ctx, contextgraph.AgentReasoning, "think", map[string]any{
		"agent_name": displayName(agent, "unknown_agent"),
		"thought":    serialize.Truncate(thought, thoughtCap),
	})
}

func crewKey(crew any) string {
	return correlate.IdentityKey("crew", crew)
}

func taskKey(task any) string {
	return correlate.IdentityKey("task", task)
}

func actionKey(agent any) string {
	return "action_" + correlate.IdentityKey(displayName(agent, "unknown_agent"), agent)
}

func mergeAuditContext(fields map[string]any, v any) {
	if d, ok := v.(Described); ok {
		for k, val := range d.AuditContext() {
			fields[k] = val
		}
	}
}

// capAny truncates string-shaped values after serialization; non-string
// values pass through untouched.
func capAny(v any, limit int) any {
	out := serialize.Value(v)
	if s, ok := out.(string); ok {
		return serialize.Truncate(s, limit)
	}
	return out
}
