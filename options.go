package contextgraph

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*config)

type config struct {
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
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(cfg *config) {
		cfg.apiKey = key
	}
}

// WithAgentID sets the agent (or crew) identifier stamped on every decision.
func WithAgentID(id string) Option {
	return func(cfg *config) {
		cfg.agentID = id
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(cfg *config) {
		cfg.baseURL = url
	}
}

// WithSource sets the source tag merged into every decision context.
func WithSource(source string) Option {
	return func(cfg *config) {
		cfg.source = source
	}
}

// WithAutoApprove transitions every proposed decision to approved
// immediately after creation. Intended for testing.
func WithAutoApprove(enabled bool) Option {
	return func(cfg *config) {
		cfg.autoApprove = enabled
	}
}

// WithMetadata merges additional key/value pairs into every decision context.
func WithMetadata(key string, value any) Option {
	return func(cfg *config) {
		if cfg.metadata == nil {
			cfg.metadata = make(map[string]any)
		}
		cfg.metadata[key] = value
	}
}

// WithTimeout bounds each network call.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client. The client's own
// timeout applies; WithTimeout is ignored when this option is used.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *config) {
		cfg.httpClient = hc
	}
}

// WithLogger sets the logger used for transport failures.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithRetry enables bounded retry on transport errors and 5xx responses.
func WithRetry(policy RetryPolicy) Option {
	return func(cfg *config) {
		p := policy
		cfg.retry = &p
	}
}

// WithToolLogging toggles tool call decisions.
func WithToolLogging(enabled bool) Option {
	return func(cfg *config) {
		cfg.logToolCalls = enabled
	}
}

// WithThoughtLogging toggles agent reasoning decisions.
func WithThoughtLogging(enabled bool) Option {
	return func(cfg *config) {
		cfg.logThoughts = enabled
	}
}

// WithChainLogging toggles chain execution decisions.
func WithChainLogging(enabled bool) Option {
	return func(cfg *config) {
		cfg.logChainCalls = enabled
	}
}

// WithModelLogging toggles model/LLM call decisions.
func WithModelLogging(enabled bool) Option {
	return func(cfg *config) {
		cfg.logModelCalls = enabled
	}
}
