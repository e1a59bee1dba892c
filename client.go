package contextgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/contextgraph/contextgraph-go/serialize"
)

// DefaultBaseURL is the production ContextGraph endpoint.
const DefaultBaseURL = "https://api.contextgraph.dev"

const defaultTimeout = 30 * time.Second

// Client talks to the remote decision store. It is the only component that
// owns the HTTP transport, and every public operation on it is total: a
// transport failure is logged and surfaced as an absent decision id, never
// as an error or panic. The client is safe for concurrent use.
type Client struct {
	apiKey      string
	agentID     string
	baseURL     string
	source      string
	autoApprove bool
	metadata    map[string]any
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	retry       *RetryPolicy

	logToolCalls  bool
	logThoughts   bool
	logChainCalls bool
	logModelCalls bool

	inflight *sync.WaitGroup
}

// New creates a Client. The API key and agent id may come from options or
// from the CG_API_KEY and CG_AGENT_ID environment variables (CG_CREW_ID is
// accepted as a crew-flavored alias); absence of either is fatal.
func New(opts ...Option) (*Client, error) {
	cfg := config{
		baseURL:       DefaultBaseURL,
		source:        "go-sdk",
		timeout:       defaultTimeout,
		logToolCalls:  true,
		logThoughts:   true,
		logChainCalls: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("CG_API_KEY")
	}
	if cfg.agentID == "" {
		cfg.agentID = os.Getenv("CG_AGENT_ID")
	}
	if cfg.agentID == "" {
		cfg.agentID = os.Getenv("CG_CREW_ID")
	}
	if cfg.apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.agentID == "" {
		return nil, ErrAgentIDRequired
	}

	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: cfg.timeout}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Client{
		apiKey:        cfg.apiKey,
		agentID:       cfg.agentID,
		baseURL:       strings.TrimRight(cfg.baseURL, "/"),
		source:        cfg.source,
		autoApprove:   cfg.autoApprove,
		metadata:      cfg.metadata,
		timeout:       cfg.timeout,
		httpClient:    cfg.httpClient,
		logger:        cfg.logger,
		retry:         cfg.retry,
		logToolCalls:  cfg.logToolCalls,
		logThoughts:   cfg.logThoughts,
		logChainCalls: cfg.logChainCalls,
		logModelCalls: cfg.logModelCalls,
		inflight:      &sync.WaitGroup{},
	}, nil
}

// WithSource returns a Client stamping the given source tag on every
// decision. The derived client shares the transport, configuration, and
// in-flight bookkeeping of the original.
func (c *Client) WithSource(source string) *Client {
	derived := *c
	derived.source = source
	return &derived
}

// AgentID returns the configured agent identifier.
func (c *Client) AgentID() string { return c.agentID }

// LogsToolCalls reports whether tool call decisions are enabled.
func (c *Client) LogsToolCalls() bool { return c.logToolCalls }

// LogsThoughts reports whether agent reasoning decisions are enabled.
func (c *Client) LogsThoughts() bool { return c.logThoughts }

// LogsChainCalls reports whether chain execution decisions are enabled.
func (c *Client) LogsChainCalls() bool { return c.logChainCalls }

// LogsModelCalls reports whether model/LLM call decisions are enabled.
func (c *Client) LogsModelCalls() bool { return c.logModelCalls }

// Propose records a new decision in the proposed state and returns its
// remote-assigned id. The context fields are made JSON-safe, merged with
// the instance metadata, a UTC timestamp, and the source tag. When
// auto-approve is enabled a best-effort approved transition is issued
// before returning; its failure does not affect the returned id.
//
// On any transport or protocol failure the error is logged and ok is
// false. Propose never panics and never blocks beyond the client timeout,
// with or without retry.
func (c *Client) Propose(ctx context.Context, typ DecisionType, action string, fields map[string]any) (id string, ok bool) {
	payload := Decision{
		AgentID: c.agentID,
		Type:    typ,
		Action:  action,
		Status:  StatusProposed,
		Context: c.buildContext(fields),
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/decisions", payload, &created); err != nil {
		c.logger.Error("contextgraph: failed to propose decision",
			"type", string(typ), "action", action, "error", err)
		return "", false
	}
	if created.ID == "" {
		c.logger.Error("contextgraph: decision created without id",
			"type", string(typ), "action", action)
		return "", false
	}

	if c.autoApprove {
		c.Transition(ctx, created.ID, StatusApproved, nil)
	}
	return created.ID, true
}

// Transition moves an existing decision to a new status, attaching the
// optional result mapping. Failures are logged and swallowed; the call
// never retries a terminal transition and never propagates an error.
func (c *Client) Transition(ctx context.Context, id string, status Status, result map[string]any) {
	if id == "" {
		return
	}
	if status == StatusProposed {
		c.logger.Warn("contextgraph: ignoring transition back to proposed", "decision_id", id)
		return
	}

	payload := struct {
		Status Status         `json:"status"`
		Result map[string]any `json:"result,omitempty"`
	}{Status: status}
	if len(result) > 0 {
		payload.Result = make(map[string]any, len(result))
		for k, v := range result {
			payload.Result[k] = serialize.Value(v)
		}
	}

	if err := c.post(ctx, "/v1/decisions/"+id+"/transition", payload, nil); err != nil {
		c.logger.Error("contextgraph: failed to transition decision",
			"decision_id", id, "status", string(status), "error", err)
	}
}

// TransitionAsync issues the transition on a background goroutine, bounded
// by the client timeout. Fire-and-forget: errors are logged, never
// returned. Close drains outstanding sends.
func (c *Client) TransitionAsync(id string, status Status, result map[string]any) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.Transition(ctx, id, status, result)
	}()
}

// Close waits for asynchronous transitions to finish and releases idle
// connections.
func (c *Client) Close() {
	c.inflight.Wait()
	c.httpClient.CloseIdleConnections()
}

func (c *Client) buildContext(fields map[string]any) map[string]any {
	merged := make(map[string]any, len(fields)+len(c.metadata)+2)
	for k, v := range fields {
		merged[k] = serialize.Value(v)
	}
	for k, v := range c.metadata {
		merged[k] = serialize.Value(v)
	}
	merged["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	merged["source"] = c.source
	return merged
}

// post sends one JSON request, retrying per the configured policy.
// Transport errors and 5xx responses are retryable; everything else fails
// immediately.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		// Context values pass through serialize.Value first, so this is
		// unreachable outside of a serializer bug.
		return fmt.Errorf("encode request: %w", err)
	}

	if c.retry != nil {
		// One deadline covers every attempt, so enabling retry never
		// extends how long the host can be blocked.
		retryCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.retry.execute(retryCtx, func() (bool, error) {
			return c.send(retryCtx, path, data, out)
		})
	}
	_, err = c.send(ctx, path, data, out)
	return err
}

func (c *Client) send(ctx context.Context, path string, data []byte, out any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode >= 500, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}
