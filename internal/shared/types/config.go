package types

// ControlConf 描述 Tor 控制端口的连接参数。
type ControlConf struct {
	Port           int    `ini:"port"`
	CookiePath     string `ini:"cookie_path"`
	TimeoutSeconds int    `ini:"timeout_seconds"`
}

// FallbackConf 描述主路径健康检查与网桥回退策略。
type FallbackConf struct {
	HealthCheckTimeoutSeconds int `ini:"health_check_timeout_seconds"`
	CheckIntervalSeconds      int `ini:"check_interval_seconds"`
	BridgeTimeoutSeconds      int `ini:"bridge_timeout_seconds"`
	MaxRetries                int `ini:"max_retries"`
	InitialBackoffSeconds     int `ini:"initial_backoff_seconds"`
}

// BridgeConf 描述网桥获取、存储与测试参数。
type BridgeConf struct {
	StorePath            string `ini:"store_path"`
	Transport            string `ini:"transport"`
	MoatURL              string `ini:"moat_url"`
	BridgeDBURL          string `ini:"bridgedb_url"`
	PublicListURLs       string `ini:"public_list_urls"` // comma separated
	SocksProxy           string `ini:"socks_proxy"`      // e.g. 127.0.0.1:9050, empty for direct
	MimicBrowserTLS      bool   `ini:"mimic_browser_tls"`
	ProbeTimeoutSeconds  int    `ini:"probe_timeout_seconds"`
	ProbeConcurrency     int    `ini:"probe_concurrency"`
	AutoCollect          bool   `ini:"auto_collect"`
	CollectIntervalHours int    `ini:"collect_interval_hours"`
}

// WebConf 描述状态 API 的监听参数。
type WebConf struct {
	Listen      string `ini:"listen"` // empty disables the status API
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
	JSON  bool   `ini:"json"`
}

// Config 是 torrer.ini 的统一配置结构体
type Config struct {
	ControlConf  `ini:"control"`
	FallbackConf `ini:"fallback"`
	BridgeConf   `ini:"bridges"`
	WebConf      `ini:"web"`
	LogConf      `ini:"log"`
}
