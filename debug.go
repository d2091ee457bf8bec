package restfetch

import (
	"github.com/google/uuid"
)

// DebugConfig gates debug logging per category so noisy areas can be enabled
// selectively.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogState     bool
	LogPolling   bool
	LogDebounce  bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a config with all categories selected (but
// disabled overall) and UUID request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogState:     true,
		LogPolling:   true,
		LogDebounce:  true,
		RequestIDGen: uuid.NewString,
	}
}

func (c *Client) debugEnabled() bool {
	return c.debug != nil && c.debug.Enabled && c.logger != nil
}

func (c *Client) requestID() string {
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return ""
}
