package adapter

import (
	"context"
	"fmt"

	contextgraph "github.com/contextgraph/contextgraph-go"
	"github.com/contextgraph/contextgraph-go/correlate"
	"github.com/contextgraph/contextgraph-go/serialize"
)

// Token is the correlation handle WrapMiddleware hands to the host
// between the before and after phases. The zero Token means the call was
// not recorded (toggle off or proposal failed) and makes the after phase
// a no-op.
type Token struct {
	key string
}

// Recorded reports whether the token tracks a live decision key.
func (t Token) Recorded() bool { return t.key != "" }

// ToolCall names one tool invocation about to be executed by the host.
type ToolCall struct {
	Name string
	Args map[string]any
}

// WrapMiddleware binds hosts with wrap-around middleware: the host asks
// for a token before executing a call, runs the call itself, and reports
// the outcome with the token. This replaces suspend-and-resume middleware
// with three explicit phases, so no coroutine semantics are needed. Each
// token carries a fresh correlation key, so nested or interleaved calls
// never collide.
type WrapMiddleware struct {
	rec    *Recorder
	client *contextgraph.Client
}

// NewWrapMiddleware creates the middleware. All decisions it records
// carry the wrap_middleware source tag.
func NewWrapMiddleware(client *contextgraph.Client, table ...*correlate.Table) *WrapMiddleware {
	tagged := client.WithSource("wrap_middleware")
	return &WrapMiddleware{
		rec:    NewRecorder(tagged, table...),
		client: tagged,
	}
}

// Recorder exposes the underlying hooks, mainly for tests.
func (m *WrapMiddleware) Recorder() *Recorder { return m.rec }

// BeforeTool proposes a tool execution decision and returns its token.
func (m *WrapMiddleware) BeforeTool(ctx context.Context, call ToolCall) Token {
	if !m.client.LogsToolCalls() {
		return Token{}
	}
	name := call.Name
	if name == "" {
		name = "unknown_tool"
	}
	key := m.rec.Start(ctx, contextgraph.ToolExecution, name, map[string]any{
		"tool_name":  name,
		"tool_input": serialize.Value(call.Args),
	})
	return Token{key: key}
}

// AfterTool marks the tool execution as executed.
func (m *WrapMiddleware) AfterTool(ctx context.Context, tok Token, result any) {
	if !tok.Recorded() {
		return
	}
	m.rec.End(ctx, tok.key, serialize.Value(result))
}

// ToolError marks the tool execution as failed.
func (m *WrapMiddleware) ToolError(ctx context.Context, tok Token, err error) {
	if !tok.Recorded() {
		return
	}
	m.rec.Error(ctx, tok.key, err)
}

// BeforeModel proposes a model call decision for the given conversation
// state and returns its token.
func (m *WrapMiddleware) BeforeModel(ctx context.Context, messages []any) Token {
	if !m.client.LogsModelCalls() {
		return Token{}
	}
	fields := map[string]any{
		"message_count": len(messages),
	}
	if len(messages) > 0 {
		fields["last_message"] = fmt.Sprint(messages[len(messages)-1])
	}
	key := m.rec.Start(ctx, contextgraph.ModelCall, "invoke_model", fields)
	return Token{key: key}
}

// AfterModel marks the model call as executed.
func (m *WrapMiddleware) AfterModel(ctx context.Context, tok Token, response any) {
	if !tok.Recorded() {
		return
	}
	m.rec.Finish(ctx, tok.key, contextgraph.StatusExecuted, map[string]any{
		"response": serialize.Value(response),
	})
}

// ModelError marks the model call as failed.
func (m *WrapMiddleware) ModelError(ctx context.Context, tok Token, err error) {
	if !tok.Recorded() {
		return
	}
	m.rec.Error(ctx, tok.key, err)
}

// WrapTool runs fn between the tool phases. The function's result and
// error pass through untouched: auditing never alters the host's control
// flow.
func (m *WrapMiddleware) WrapTool(ctx context.Context, call ToolCall, fn func(context.Context) (any, error)) (any, error) {
	tok := m.BeforeTool(ctx, call)
	out, err := fn(ctx)
	if err != nil {
		m.ToolError(ctx, tok, err)
		return out, err
	}
	m.AfterTool(ctx, tok, out)
	return out, nil
}

// WrapModel runs fn between the model phases, passing its result and
// error through untouched.
func (m *WrapMiddleware) WrapModel(ctx context.Context, messages []any, fn func(context.Context) (any, error)) (any, error) {
	tok := m.BeforeModel(ctx, messages)
	out, err := fn(ctx)
	if err != nil {
		m.ModelError(ctx, tok, err)
		return out, err
	}
	m.AfterModel(ctx, tok, out)
	return out, nil
}
