package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contextgraph "github.com/contextgraph/contextgraph-go"
)

type storeRequest struct {
	Path string
	Body map[string]any
}

type fakeStore struct {
	mu       sync.Mutex
	requests []storeRequest
	nextID   int
	status   int // non-zero: respond with this status to everything
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	s.requests = append(s.requests, storeRequest{Path: r.URL.Path, Body: body})

	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	if r.URL.Path == "/v1/decisions" {
		s.nextID++
		json.NewEncoder(w).Encode(map[string]any{"id": fmt.Sprintf("d%d", s.nextID)})
		return
	}
	w.Write([]byte("{}"))
}

func (s *fakeStore) proposals() []storeRequest {
	return s.byPath(func(p string) bool { return p == "/v1/decisions" })
}

func (s *fakeStore) transitions() []storeRequest {
	return s.byPath(func(p string) bool { return strings.HasSuffix(p, "/transition") })
}

func (s *fakeStore) byPath(match func(string) bool) []storeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storeRequest
	for _, req := range s.requests {
		if match(req.Path) {
			out = append(out, req)
		}
	}
	return out
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newClient(t *testing.T, srv *httptest.Server, opts ...contextgraph.Option) *contextgraph.Client {
	t.Helper()
	base := []contextgraph.Option{
		contextgraph.WithAPIKey("test-key"),
		contextgraph.WithAgentID("agent-1"),
		contextgraph.WithBaseURL(srv.URL),
		contextgraph.WithHTTPClient(srv.Client()),
	}
	client, err := contextgraph.New(append(base, opts...)...)
	require.NoError(t, err)
	return client
}

func contextOf(t *testing.T, req storeRequest) map[string]any {
	t.Helper()
	fields, ok := req.Body["context"].(map[string]any)
	require.True(t, ok, "decision body must carry a context mapping")
	return fields
}

func TestRecorderExactlyOneTerminal(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	rec := NewRecorder(newClient(t, srv))
	key := rec.Start(context.Background(), contextgraph.ToolExecution, "search", nil)

	rec.End(context.Background(), key, "out")
	rec.End(context.Background(), key, "out-again")
	rec.Error(context.Background(), key, errors.New("late"))

	transitions := store.transitions()
	require.Len(t, transitions, 1, "duplicate end events must collapse to one terminal transition")
	assert.Equal(t, "executed", transitions[0].Body["status"])
}

func TestRecorderFailedProposalMakesEndNoop(t *testing.T) {
	store := &fakeStore{status: http.StatusInternalServerError}
	srv := httptest.NewServer(store)
	defer srv.Close()

	rec := NewRecorder(newClient(t, srv))
	key := rec.Start(context.Background(), contextgraph.ToolExecution, "search", nil)
	require.NotEmpty(t, key, "the host still gets a key to carry")

	store.mu.Lock()
	store.status = 0
	store.mu.Unlock()

	rec.End(context.Background(), key, "out")
	assert.Empty(t, store.transitions(), "no decision was recorded, so nothing transitions")
}

func TestRecorderErrorTransition(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	rec := NewRecorder(newClient(t, srv))
	key := rec.Start(context.Background(), contextgraph.ToolExecution, "search", nil)
	rec.Error(context.Background(), key, errors.New("boom"))

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "failed", transitions[0].Body["status"])
	result := transitions[0].Body["result"].(map[string]any)
	assert.Equal(t, "boom", result["error"])
}

type testCrew struct {
	name   string
	agents []any
	tasks  []any
}

func (c *testCrew) Name() string  { return c.name }
func (c *testCrew) Agents() []any { return c.agents }
func (c *testCrew) Tasks() []any  { return c.tasks }

func (c *testCrew) AuditContext() map[string]any {
	return map[string]any{"team": "research"}
}

type testTask struct {
	description string
	expected    string
}

func (t *testTask) Description() string    { return t.description }
func (t *testTask) ExpectedOutput() string { return t.expected }

type testAgent struct {
	role string
	goal string
}

func (a *testAgent) Role() string { return a.role }
func (a *testAgent) Goal() string { return a.goal }

func TestCrewObserverCrewLifecycle(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	observer := NewCrewObserver(newClient(t, srv))
	crew := &testCrew{
		name:   "research",
		agents: []any{&testAgent{role: "writer", goal: "write well"}},
		tasks:  []any{&testTask{description: strings.Repeat("d", 300)}},
	}

	observer.OnCrewStart(context.Background(), crew)
	observer.OnCrewEnd(context.Background(), crew, "final report")

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "crew_execution", proposals[0].Body["type"])
	assert.Equal(t, "start_crew", proposals[0].Body["action"])
	fields := contextOf(t, proposals[0])
	assert.Equal(t, "research", fields["crew_name"])
	assert.Equal(t, "research", fields["team"])
	assert.Equal(t, float64(1), fields["num_agents"])
	assert.Equal(t, float64(1), fields["num_tasks"])
	roster := fields["agents"].([]any)
	require.Len(t, roster, 1)
	assert.Equal(t, "writer", roster[0].(map[string]any)["name"])
	tasks := fields["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Len(t, tasks[0].(map[string]any)["description"], 200)
	assert.Equal(t, "crew_observer", fields["source"])
	ref, _ := fields["reference_id"].(string)
	assert.True(t, strings.HasPrefix(ref, "crew_"), "context must carry the correlation handle, got %q", ref)

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "executed", transitions[0].Body["status"])
	result := transitions[0].Body["result"].(map[string]any)
	assert.Equal(t, "final report", result["output"])
	assert.Equal(t, true, result["success"])
}

func TestCrewObserverTaskLifecycle(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	observer := NewCrewObserver(newClient(t, srv))
	task := &testTask{
		description: strings.Repeat("d", 600),
		expected:    "summary",
	}
	agent := &testAgent{role: "writer", goal: "write well"}

	observer.OnTaskStart(context.Background(), task, agent)
	observer.OnTaskError(context.Background(), task, errors.New("timeout"))

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "task_execution", proposals[0].Body["type"])
	fields := contextOf(t, proposals[0])
	assert.Equal(t, "writer", fields["agent_name"])
	assert.Equal(t, "write well", fields["agent_goal"])
	assert.Equal(t, "summary", fields["expected_output"])
	assert.Len(t, fields["task_description"], 500, "long descriptions are capped")
	ref, _ := fields["reference_id"].(string)
	assert.True(t, strings.HasPrefix(ref, "task_"), "context must carry the correlation handle, got %q", ref)

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "failed", transitions[0].Body["status"])
}

func TestCrewObserverDistinctTasksDoNotCollide(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	observer := NewCrewObserver(newClient(t, srv))
	agent := &testAgent{role: "writer"}
	first := &testTask{description: "one"}
	second := &testTask{description: "two"}

	observer.OnTaskStart(context.Background(), first, agent)
	observer.OnTaskStart(context.Background(), second, agent)
	observer.OnTaskEnd(context.Background(), first, "done-one")
	observer.OnTaskEnd(context.Background(), second, "done-two")

	transitions := store.transitions()
	require.Len(t, transitions, 2)
	firstResult := transitions[0].Body["result"].(map[string]any)
	secondResult := transitions[1].Body["result"].(map[string]any)
	assert.Equal(t, "done-one", firstResult["output"])
	assert.Equal(t, "done-two", secondResult["output"])
	assert.Equal(t, "/v1/decisions/d1/transition", transitions[0].Path)
	assert.Equal(t, "/v1/decisions/d2/transition", transitions[1].Path)
}

func TestCrewObserverToolUse(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	observer := NewCrewObserver(newClient(t, srv))
	observer.OnToolUse(context.Background(), &testAgent{role: "writer"}, "search", map[string]any{"q": "x"}, "hit")

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "tool_usage", proposals[0].Body["type"])
	fields := contextOf(t, proposals[0])
	assert.Equal(t, "search", fields["tool_name"])
	assert.Equal(t, "hit", fields["tool_output"])

	transitions := store.transitions()
	require.Len(t, transitions, 1, "tool use arrives after the fact and closes immediately")
	assert.Equal(t, "executed", transitions[0].Body["status"])
}

func TestCrewObserverTogglesOff(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	observer := NewCrewObserver(newClient(t, srv,
		contextgraph.WithToolLogging(false),
		contextgraph.WithThoughtLogging(false),
	))

	agent := &testAgent{role: "writer"}
	observer.OnToolUse(context.Background(), agent, "search", nil, "hit")
	observer.OnToolError(context.Background(), agent, "search", nil, errors.New("boom"))
	observer.OnThought(context.Background(), agent, "thinking")

	assert.Zero(t, store.count(), "disabled categories must not reach the store")
}

func TestCrewObserverThoughtStaysProposed(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	observer := NewCrewObserver(newClient(t, srv))
	observer.OnThought(context.Background(), &testAgent{role: "writer"}, strings.Repeat("t", 2500))

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "agent_reasoning", proposals[0].Body["type"])
	fields := contextOf(t, proposals[0])
	assert.Len(t, fields["thought"], 2000)
	assert.Empty(t, store.transitions(), "thoughts have no terminal event")
}

func TestRunHandlerToolLifecycle(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	handler := NewRunHandler(newClient(t, srv))
	runID := uuid.New()

	handler.OnToolStart(context.Background(), runID, "", "raw", nil, []string{"tag"}, nil)
	handler.OnToolEnd(context.Background(), runID, "out")

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "tool_execution", proposals[0].Body["type"])
	assert.Equal(t, "unknown_tool", proposals[0].Body["action"])
	fields := contextOf(t, proposals[0])
	assert.Equal(t, "raw", fields["input"])
	assert.Equal(t, "run_handler", fields["source"])
	assert.Equal(t, runID.String(), fields["run_id"], "context must carry the run id for joins")

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "executed", transitions[0].Body["status"])
}

func TestRunHandlerConcurrentRunsDoNotInterfere(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	handler := NewRunHandler(newClient(t, srv))

	const runs = 8
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runID := uuid.New()
			tool := fmt.Sprintf("tool-%d", n)
			handler.OnToolStart(context.Background(), runID, tool, "in", nil, nil, nil)
			handler.OnToolEnd(context.Background(), runID, fmt.Sprintf("out-%d", n))
		}(i)
	}
	wg.Wait()

	proposals := store.proposals()
	transitions := store.transitions()
	require.Len(t, proposals, runs)
	require.Len(t, transitions, runs)

	// The store hands out ids in request order, so the i-th proposal owns
	// id d(i+1). Each transition must land on the id of its own run's
	// proposal.
	toolByID := make(map[string]string, runs)
	for i, p := range proposals {
		toolByID[fmt.Sprintf("d%d", i+1)] = p.Body["action"].(string)
	}
	for _, tr := range transitions {
		id := strings.TrimSuffix(strings.TrimPrefix(tr.Path, "/v1/decisions/"), "/transition")
		tool := toolByID[id]
		want := "out-" + strings.TrimPrefix(tool, "tool-")
		result := tr.Body["result"].(map[string]any)
		assert.Equal(t, want, result["output"], "transition for %s must match its own run", tool)
	}
}

func TestRunHandlerCategoryToggles(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	handler := NewRunHandler(newClient(t, srv))
	runID := uuid.New()

	// Model calls are off unless opted in; chain calls are on.
	handler.OnLLMStart(context.Background(), runID, "gpt", []string{"p"}, nil, nil)
	assert.Zero(t, store.count())

	handler.OnChainStart(context.Background(), runID, "qa", nil, nil, nil)
	assert.Equal(t, 1, store.count())

	verbose := NewRunHandler(newClient(t, srv, contextgraph.WithModelLogging(true)))
	verbose.OnLLMStart(context.Background(), uuid.New(), "", nil, nil, nil)
	proposals := store.proposals()
	require.Len(t, proposals, 2)
	assert.Equal(t, "llm_call", proposals[1].Body["type"])
	assert.Equal(t, "unknown_model", proposals[1].Body["action"])
}

func TestWrapToolPassthrough(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	mw := NewWrapMiddleware(newClient(t, srv))
	out, err := mw.WrapTool(context.Background(), ToolCall{Name: "search", Args: map[string]any{"q": "x"}},
		func(context.Context) (any, error) { return "hit", nil })
	require.NoError(t, err)
	assert.Equal(t, "hit", out)

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "tool_execution", proposals[0].Body["type"])
	fields := contextOf(t, proposals[0])
	assert.Equal(t, "wrap_middleware", fields["source"])

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "executed", transitions[0].Body["status"])
}

func TestWrapToolErrorPassthrough(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	mw := NewWrapMiddleware(newClient(t, srv))
	hostErr := errors.New("tool broke")
	_, err := mw.WrapTool(context.Background(), ToolCall{Name: "search"},
		func(context.Context) (any, error) { return nil, hostErr })
	require.ErrorIs(t, err, hostErr, "auditing must not swallow host errors")

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "failed", transitions[0].Body["status"])
}

func TestWrapToolUnreachableStoreStaysTransparent(t *testing.T) {
	client, err := contextgraph.New(
		contextgraph.WithAPIKey("k"),
		contextgraph.WithAgentID("a"),
		contextgraph.WithBaseURL("http://127.0.0.1:1"),
	)
	require.NoError(t, err)

	mw := NewWrapMiddleware(client)
	out, err := mw.WrapTool(context.Background(), ToolCall{Name: "search"},
		func(context.Context) (any, error) { return "hit", nil })
	require.NoError(t, err)
	assert.Equal(t, "hit", out)
}

func TestWrapModelToggledOffByDefault(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	mw := NewWrapMiddleware(newClient(t, srv))
	tok := mw.BeforeModel(context.Background(), []any{"hello"})
	assert.False(t, tok.Recorded())
	mw.AfterModel(context.Background(), tok, "resp")
	assert.Zero(t, store.count())
}

func TestWrapModelLifecycle(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	mw := NewWrapMiddleware(newClient(t, srv, contextgraph.WithModelLogging(true)))
	out, err := mw.WrapModel(context.Background(), []any{"system", "user question"},
		func(context.Context) (any, error) { return "answer", nil })
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	proposals := store.proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "model_call", proposals[0].Body["type"])
	fields := contextOf(t, proposals[0])
	assert.Equal(t, float64(2), fields["message_count"])
	assert.Equal(t, "user question", fields["last_message"])

	transitions := store.transitions()
	require.Len(t, transitions, 1)
	result := transitions[0].Body["result"].(map[string]any)
	assert.Equal(t, "answer", result["response"])
}

func TestWrapInterleavedTokensDoNotCollide(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	mw := NewWrapMiddleware(newClient(t, srv))
	outer := mw.BeforeTool(context.Background(), ToolCall{Name: "outer"})
	inner := mw.BeforeTool(context.Background(), ToolCall{Name: "inner"})
	mw.AfterTool(context.Background(), inner, "inner-out")
	mw.AfterTool(context.Background(), outer, "outer-out")

	transitions := store.transitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, "/v1/decisions/d2/transition", transitions[0].Path)
	assert.Equal(t, "/v1/decisions/d1/transition", transitions[1].Path)
}
