package config

import (
	"reflect"
	"slices"
	"strings"

	logx "ledgercast/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. The private key is reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Node != newCfg.Node {
		changed = append(changed, "node")
		attrs = append(attrs,
			logx.String("node.url", newCfg.Node.URL),
			logx.String("node.network", newCfg.Node.Network),
			logx.String("node.format", newCfg.Node.Format),
			logx.String("node.timeout", strings.TrimSpace(newCfg.Node.Timeout)),
		)
	}

	keySet := func(c *Config) bool { return strings.TrimSpace(c.Signer.PrivateKey) != "" }
	if oldCfg.Signer != newCfg.Signer {
		changed = append(changed, "signer")
		attrs = append(attrs,
			logx.Bool("signer.private_key_set", keySet(newCfg)),
			logx.Bool("signer.private_key_changed", oldCfg.Signer.PrivateKey != newCfg.Signer.PrivateKey),
			logx.String("signer.mosaic_id", newCfg.Signer.MosaicID),
			logx.Uint64("signer.fee", newCfg.Signer.Fee),
		)
	}

	if oldCfg.Transfer != newCfg.Transfer {
		changed = append(changed, "transfer")
		attrs = append(attrs,
			logx.String("transfer.recipient", newCfg.Transfer.Recipient),
			logx.Uint64("transfer.amount", newCfg.Transfer.Amount),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.mode", newCfg.Dispatch.Mode),
			logx.Int("dispatch.count", newCfg.Dispatch.Count),
			logx.Int("dispatch.concurrency", newCfg.Dispatch.Concurrency),
			logx.Float64("dispatch.rate", newCfg.Dispatch.Rate),
			logx.Int("dispatch.max_total", newCfg.Dispatch.MaxTotal),
		)
	}

	if serverChanged(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Float64("server.rate_limit", newCfg.Server.RateLimit),
			logx.Bool("server.pprof", newCfg.Server.Pprof),
			logx.Bool("server.token_set", newCfg.Server.Token != ""),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.spec", strings.TrimSpace(newCfg.Schedule.Spec)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	return changed, attrs
}

// RestartRequired lists changed sections that a running server cannot apply live.
// Logging, transfer, dispatch and schedule changes take effect on reload.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "node", "signer", "server", "storage":
			out = append(out, s)
		}
	}
	return out
}

func serverChanged(a, b ServerConfig) bool {
	if !slices.Equal(a.TrustedProxies, b.TrustedProxies) {
		return true
	}
	a.TrustedProxies, b.TrustedProxies = nil, nil
	return !reflect.DeepEqual(a, b)
}
