package adapter

import (
	"context"

	"github.com/google/uuid"

	contextgraph "github.com/contextgraph/contextgraph-go"
	"github.com/contextgraph/contextgraph-go/correlate"
	"github.com/contextgraph/contextgraph-go/serialize"
)

// RunHandler binds hosts that key their callbacks by an externally
// generated run identifier: every start hook carries a UUID that the
// matching end or error hook repeats. Callbacks for distinct runs may
// arrive concurrently.
type RunHandler struct {
	rec    *Recorder
	client *contextgraph.Client
}

// NewRunHandler creates the handler. All decisions it records carry the
// run_handler source tag.
func NewRunHandler(client *contextgraph.Client, table ...*correlate.Table) *RunHandler {
	tagged := client.WithSource("run_handler")
	return &RunHandler{
		rec:    NewRecorder(tagged, table...),
		client: tagged,
	}
}

// Recorder exposes the underlying hooks, mainly for tests.
func (h *RunHandler) Recorder() *Recorder { return h.rec }

// OnAgentAction records the agent's chosen tool invocation together with
// its reasoning trace.
func (h *RunHandler) OnAgentAction(ctx context.Context, runID uuid.UUID, tool string, toolInput any, reasoning string) {
	h.rec.StartWithKey(ctx, correlate.RunKey(runID), contextgraph.ToolInvocation, tool, map[string]any{
		"tool":       tool,
		"tool_input": serialize.Value(toolInput),
		"reasoning":  reasoning,
		"run_id":     runID.String(),
	})
}

// OnAgentFinish marks the run's agent decision as executed.
func (h *RunHandler) OnAgentFinish(ctx context.Context, runID uuid.UUID, returnValues any, log string) {
	h.rec.Finish(ctx, correlate.RunKey(runID), contextgraph.StatusExecuted, map[string]any{
		"output": serialize.Value(returnValues),
		"log":    log,
	})
}

// OnToolStart records a tool execution decision for the run.
func (h *RunHandler) OnToolStart(ctx context.Context, runID uuid.UUID, tool string, input string, inputs map[string]any, tags []string, metadata map[string]any) {
	if tool == "" {
		tool = "unknown_tool"
	}
	h.rec.StartWithKey(ctx, correlate.RunKey(runID), contextgraph.ToolExecution, tool, map[string]any{
		"tool":     tool,
		"input":    input,
		"inputs":   serialize.Value(inputs),
		"tags":     tags,
		"metadata": serialize.Value(metadata),
		"run_id":   runID.String(),
	})
}

// OnToolEnd marks the run's tool execution as executed.
func (h *RunHandler) OnToolEnd(ctx context.Context, runID uuid.UUID, output string) {
	h.rec.Finish(ctx, correlate.RunKey(runID), contextgraph.StatusExecuted, map[string]any{
		"output": output,
	})
}

// OnToolError marks the run's tool execution as failed.
func (h *RunHandler) OnToolError(ctx context.Context, runID uuid.UUID, err error) {
	h.rec.Error(ctx, correlate.RunKey(runID), err)
}

// OnChainStart records a chain execution decision for the run.
func (h *RunHandler) OnChainStart(ctx context.Context, runID uuid.UUID, chain string, inputs map[string]any, tags []string, metadata map[string]any) {
	if !h.client.LogsChainCalls() {
		return
	}
	if chain == "" {
		chain = "unknown_chain"
	}
	h.rec.StartWithKey(ctx, correlate.RunKey(runID), contextgraph.ChainExecution, chain, map[string]any{
		"chain":    chain,
		"inputs":   serialize.Value(inputs),
		"tags":     tags,
		"metadata": serialize.Value(metadata),
		"run_id":   runID.String(),
	})
}

// OnChainEnd marks the run's chain execution as executed.
func (h *RunHandler) OnChainEnd(ctx context.Context, runID uuid.UUID, outputs map[string]any) {
	if !h.client.LogsChainCalls() {
		return
	}
	h.rec.Finish(ctx, correlate.RunKey(runID), contextgraph.StatusExecuted, map[string]any{
		"outputs": serialize.Value(outputs),
	})
}

// OnChainError marks the run's chain execution as failed.
func (h *RunHandler) OnChainError(ctx context.Context, runID uuid.UUID, err error) {
	if !h.client.LogsChainCalls() {
		return
	}
	h.rec.Error(ctx, correlate.RunKey(runID), err)
}

// OnLLMStart records a model call decision for the run.
func (h *RunHandler) OnLLMStart(ctx context.Context, runID uuid.UUID, model string, prompts []string, tags []string, metadata map[string]any) {
	if !h.client.LogsModelCalls() {
		return
	}
	if model == "" {
		model = "unknown_model"
	}
	h.rec.StartWithKey(ctx, correlate.RunKey(runID), contextgraph.LLMCall, model, map[string]any{
		"model":    model,
		"prompts":  prompts,
		"tags":     tags,
		"metadata": serialize.Value(metadata),
		"run_id":   runID.String(),
	})
}

// OnLLMEnd marks the run's model call as executed.
func (h *RunHandler) OnLLMEnd(ctx context.Context, runID uuid.UUID, generations [][]string, llmOutput map[string]any) {
	if !h.client.LogsModelCalls() {
		return
	}
	h.rec.Finish(ctx, correlate.RunKey(runID), contextgraph.StatusExecuted, map[string]any{
		"generations": generations,
		"llm_output":  serialize.Value(llmOutput),
	})
}

// OnLLMError marks the run's model call as failed.
func (h *RunHandler) OnLLMError(ctx context.Context, runID uuid.UUID, err error) {
	if !h.client.LogsModelCalls() {
		return
	}
	h.rec.Error(ctx, correlate.RunKey(runID), err)
}
