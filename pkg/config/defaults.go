package config

const (
	defaultUpstream        = "http://localhost:8000"
	defaultUpstreamTimeout = "30s"
	defaultRelayListen     = ":8080"
	defaultAPIListen       = ":8081"

	defaultClientRelayTarget = "http://localhost:8080"
	defaultClientAPITarget   = "http://localhost:8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. There is no default
// user id: every chat request must name its user.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Relay: RelayConfig{
			Listen:          defaultRelayListen,
			Upstream:        defaultUpstream,
			UpstreamTimeout: defaultUpstreamTimeout,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			RelayTarget: defaultClientRelayTarget,
			APITarget:   defaultClientAPITarget,
		},
	}
}
