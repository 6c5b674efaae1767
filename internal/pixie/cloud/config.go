package cloud

import "time"

// Vendor endpoints and application keys.
const (
	DefaultBaseURL   = "https://www.pixie.app/p0/pixieCloud/"
	DefaultLiveURL   = "wss://www.pixie.app/ws/p0/pixieCloud:443"
	DefaultAppID     = "6426f04c206c108275ede71b9fd09ac8"
	DefaultClientKey = "35779bd411c751ff87577cd762118dad"
)

// Config contains cloud endpoint and transport configuration.
type Config struct {
	BaseURL   string
	LiveURL   string
	AppID     string
	ClientKey string
	Timeout   time.Duration

	// CommandRate limits outbound commands per second (0 = unlimited).
	CommandRate  float64
	CommandBurst int
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		LiveURL:      DefaultLiveURL,
		AppID:        DefaultAppID,
		ClientKey:    DefaultClientKey,
		Timeout:      30 * time.Second,
		CommandRate:  5,
		CommandBurst: 5,
	}
}

// LiveQueryConfig contains configuration for live query reconnection.
type LiveQueryConfig struct {
	MinBackoff     time.Duration // Minimum backoff between reconnects
	MaxBackoff     time.Duration // Maximum backoff between reconnects
	Multiplier     float64       // Backoff multiplier
	UnhealthyAfter int           // Consecutive failures before reporting unhealthy, 0 = never
	PingInterval   time.Duration // Keepalive ping interval, 0 = disabled
}

// DefaultLiveQueryConfig returns sensible defaults for live query reconnection.
func DefaultLiveQueryConfig() LiveQueryConfig {
	return LiveQueryConfig{
		MinBackoff:     1 * time.Second,
		MaxBackoff:     2 * time.Minute,
		Multiplier:     2.0,
		UnhealthyAfter: 10,
		PingInterval:   30 * time.Second,
	}
}
