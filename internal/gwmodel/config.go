package gwmodel

// ProxyServerConfig is the proxy-facing half of the configuration document.
type ProxyServerConfig struct {
	BindAddr      string `json:"bind_addr"`
	APIKey        string `json:"api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
}

// RoutingConfig is the routing half of the configuration document.
type RoutingConfig struct {
	Strategy             RoutingStrategy `json:"strategy"`
	MinRequestIntervalMS int             `json:"min_request_interval_ms"`
}

// AppConfig is the single configuration document spec describes:
// nested proxy and routing sections, round-trippable as JSON for the
// (absent) management UI to persist.
type AppConfig struct {
	Proxy   ProxyServerConfig `json:"proxy"`
	Routing RoutingConfig     `json:"routing"`
}

// DefaultAppConfig returns the documented defaults.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Proxy: ProxyServerConfig{
			BindAddr:      "127.0.0.1:8080",
			APIKey:        "sk-codex-manager",
			OpenAIBaseURL: "https://api.openai.com",
		},
		Routing: RoutingConfig{
			Strategy:             StrategyLeastUtilized,
			MinRequestIntervalMS: 100,
		},
	}
}

// ProxyStatus reports the running state of the front-end HTTP server.
type ProxyStatus struct {
	Running       bool    `json:"running"`
	BindAddr      string  `json:"bind_addr"`
	RequestCount  uint64  `json:"request_count"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}
