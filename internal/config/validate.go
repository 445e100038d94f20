package config

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"strings"

	"ledgercast/internal/ledger"
)

// Validate checks the shape of the configuration. Credentials are checked
// separately by ValidateCredentials, so commands that never sign (history)
// work without them.
func (c *Config) Validate() error {
	if c == nil {
		return &ledger.ConfigurationError{Reason: "config is nil"}
	}
	for path, raw := range map[string]string{
		"node.timeout":         c.Node.Timeout,
		"signer.deadline":      c.Signer.Deadline,
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"storage.busy_timeout": c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Node.Format)) {
	case "", "json", "raw":
	default:
		return ledger.InvalidField("node.format", fmt.Sprintf("unknown format %q (use json or raw)", c.Node.Format))
	}
	if c.Node.AcceptStatus != 0 && (c.Node.AcceptStatus < 100 || c.Node.AcceptStatus > 599) {
		return ledger.InvalidField("node.accept_status", "must be an HTTP status code")
	}
	if c.Dispatch.Count < 0 {
		return ledger.InvalidField("dispatch.count", "must be >= 0")
	}
	if c.Dispatch.Concurrency < 0 {
		return ledger.InvalidField("dispatch.concurrency", "must be >= 1")
	}
	if c.Dispatch.MaxTotal < 0 {
		return ledger.InvalidField("dispatch.max_total", "must be >= 0")
	}
	if c.Dispatch.MaxTotal > 0 && c.Dispatch.Count > c.Dispatch.MaxTotal {
		return ledger.InvalidField("dispatch.count", fmt.Sprintf("exceeds dispatch.max_total (%d)", c.Dispatch.MaxTotal))
	}
	if c.Dispatch.Rate < 0 || math.IsNaN(c.Dispatch.Rate) || math.IsInf(c.Dispatch.Rate, 0) {
		return ledger.InvalidField("dispatch.rate", "must be a finite number >= 0")
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		return ledger.InvalidField("server.rate_limit", "must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return ledger.InvalidField("storage.driver", fmt.Sprintf("unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Retain < 0 {
		return ledger.InvalidField("storage.retain", "must be >= 0")
	}
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Spec) == "" {
		return ledger.MissingField("schedule.spec")
	}
	return nil
}

// ValidateCredentials checks everything a signing run needs. The first missing or
// malformed field is reported by its environment variable name.
func (c *Config) ValidateCredentials() error {
	if c == nil {
		return &ledger.ConfigurationError{Reason: "config is nil"}
	}
	pk := strings.TrimSpace(c.Signer.PrivateKey)
	if pk == "" {
		return ledger.MissingField(EnvPrivateKey)
	}
	if b, err := hex.DecodeString(pk); err != nil || len(b) != 32 {
		return ledger.InvalidField(EnvPrivateKey, "must be 64 hex characters")
	}

	if strings.TrimSpace(c.Node.URL) == "" {
		return ledger.MissingField(EnvNodeURL)
	}
	u, err := url.Parse(strings.TrimSpace(c.Node.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ledger.InvalidField(EnvNodeURL, "must be an http(s) URL")
	}

	if strings.TrimSpace(c.Transfer.Recipient) == "" {
		return ledger.MissingField(EnvRecipient)
	}

	if strings.TrimSpace(c.Signer.MosaicID) == "" {
		return ledger.MissingField(EnvMosaicID)
	}
	if id, err := ParseMosaicID(c.Signer.MosaicID); err != nil || id == 0 {
		return ledger.InvalidField(EnvMosaicID, "must be a non-zero hex id")
	}
	return nil
}
