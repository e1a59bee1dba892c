package contextgraph

import "errors"

// Configuration errors, fatal at construction time.
var (
	ErrAPIKeyRequired  = errors.New("contextgraph: API key required (set CG_API_KEY or pass WithAPIKey)")
	ErrAgentIDRequired = errors.New("contextgraph: agent ID required (set CG_AGENT_ID or pass WithAgentID)")
)
