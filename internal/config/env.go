package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that overlay the file configuration.
const (
	EnvPrivateKey = "SYMBOL_PRIVATE_KEY"
	EnvNodeURL    = "SYMBOL_NODE_URL"
	EnvRecipient  = "SYMBOL_RECIPIENT_ADDRESS"
	EnvMosaicID   = "SYMBOL_MOSAIC_ID"
	EnvNetwork    = "SYMBOL_NETWORK"
	EnvLogLevel   = "LEDGERCAST_LOG_LEVEL"
	EnvStorage    = "LEDGERCAST_STORAGE_DRIVER"
	EnvSchedule   = "LEDGERCAST_SCHEDULE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil || lookup == nil {
		return
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvPrivateKey, &cfg.Signer.PrivateKey)
	set(EnvNodeURL, &cfg.Node.URL)
	set(EnvRecipient, &cfg.Transfer.Recipient)
	set(EnvMosaicID, &cfg.Signer.MosaicID)
	set(EnvNetwork, &cfg.Node.Network)
	set(EnvLogLevel, &cfg.Logging.Level)
	set(EnvStorage, &cfg.Storage.Driver)
	if v, ok := lookup(EnvSchedule); ok && strings.TrimSpace(v) != "" {
		cfg.Schedule.Spec = strings.TrimSpace(v)
		cfg.Schedule.Enabled = true
	}
}

// ParseMosaicID accepts hex with or without a 0x prefix.
func ParseMosaicID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty mosaic id")
	}
	return strconv.ParseUint(s, 16, 64)
}
