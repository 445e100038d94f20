package config

// Config is the on-disk configuration. Every section may be overridden by the
// environment (see ApplyEnv); secrets are normally supplied that way.
type Config struct {
	Node     NodeConfig     `json:"node"`
	Signer   SignerConfig   `json:"signer"`
	Transfer TransferConfig `json:"transfer"`
	Dispatch DispatchConfig `json:"dispatch"`
	Server   ServerConfig   `json:"server"`
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

// NodeConfig describes the ledger node transactions are announced to.
//
// Format is the announce body encoding: "json" ({"payload": HEX}, default) or "raw".
// Timeout is a Go duration string.
type NodeConfig struct {
	URL            string `json:"url"`
	Network        string `json:"network,omitempty"` // testnet | mainnet
	GenerationHash string `json:"generation_hash,omitempty"`
	Format         string `json:"format,omitempty"`
	AcceptStatus   int    `json:"accept_status,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

// SignerConfig holds the signing credential. PrivateKey is never logged.
type SignerConfig struct {
	PrivateKey string `json:"private_key,omitempty"`
	MosaicID   string `json:"mosaic_id"` // hex
	Fee        uint64 `json:"fee,omitempty"`
	Deadline   string `json:"deadline,omitempty"`
}

// TransferConfig is the default request template.
type TransferConfig struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
}

// DispatchConfig holds run defaults; CLI flags override them.
type DispatchConfig struct {
	Mode        string  `json:"mode,omitempty"`
	Count       int     `json:"count,omitempty"`
	Concurrency int     `json:"concurrency,omitempty"`
	Rate        float64 `json:"rate,omitempty"`
	// MaxTotal is the largest batch a single run accepts; 0 means the built-in limit.
	MaxTotal    int     `json:"max_total,omitempty"`
}

// ServerConfig controls the HTTP invocation surface started by `serve`.
//
// RateLimit is requests per second per client; 0 disables limiting.
// Token, when set, is required as a bearer token on every route but /healthz.
type ServerConfig struct {
	Addr         string  `json:"addr,omitempty"`
	Token        string  `json:"token,omitempty"`
	RateLimit    float64 `json:"rate_limit,omitempty"`
	Burst        int     `json:"burst,omitempty"`
	Pprof        bool    `json:"pprof,omitempty"`
	ReadTimeout  string  `json:"read_timeout,omitempty"`
	WriteTimeout string  `json:"write_timeout,omitempty"`

	// TrustedProxies lists proxy addresses or CIDRs whose forwarding headers
	// identify the client for rate limiting.
	TrustedProxies []string `json:"trusted_proxies,omitempty"`
}

// ScheduleConfig triggers recurring dispatch runs in serve mode.
//
// Spec accepts a cron expression, a Go duration ("every:5m") or an "HH:MM"
// interval ("01:30" runs every ninety minutes).
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./ledgercast.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // none | file | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`       // newest runs kept; 0 keeps all
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

const (
	DefaultMessage = "ledgercast test transaction"
	DefaultAmount  = 1000
	DefaultAddr    = "127.0.0.1:8080"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values that have a sensible default.
func (c *Config) ApplyDefaults() {
	if c.Node.Network == "" {
		c.Node.Network = "testnet"
	}
	if c.Node.Format == "" {
		c.Node.Format = "json"
	}
	if c.Transfer.Message == "" {
		c.Transfer.Message = DefaultMessage
	}
	if c.Transfer.Amount == 0 {
		c.Transfer.Amount = DefaultAmount
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = "sequential"
	}
	if c.Dispatch.Count == 0 {
		c.Dispatch.Count = 1
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
