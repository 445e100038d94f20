package app

import (
	"strings"
	"time"

	"ledgercast/internal/announce"
	"ledgercast/internal/config"
	"ledgercast/internal/dispatch"
	"ledgercast/internal/invoke"
	"ledgercast/internal/ledger"
	"ledgercast/internal/storage"
	"ledgercast/internal/txengine"
	logx "ledgercast/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		switch driver {
		case "file":
			path = "./ledgercast-history"
		default:
			return storage.Config{}, false, ledger.MissingField("storage.path")
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
}

func mapEngineConfig(cfg *config.Config) (txengine.Config, error) {
	mosaic, err := config.ParseMosaicID(cfg.Signer.MosaicID)
	if err != nil {
		return txengine.Config{}, ledger.InvalidField(config.EnvMosaicID, err.Error())
	}
	deadline, err := config.ParseDurationField("signer.deadline", cfg.Signer.Deadline)
	if err != nil {
		return txengine.Config{}, err
	}
	timeout, err := config.ParseDurationField("node.timeout", cfg.Node.Timeout)
	if err != nil {
		return txengine.Config{}, err
	}
	return txengine.Config{
		PrivateKey:     cfg.Signer.PrivateKey,
		NodeURL:        cfg.Node.URL,
		Network:        cfg.Node.Network,
		GenerationHash: cfg.Node.GenerationHash,
		MosaicID:       mosaic,
		Fee:            cfg.Signer.Fee,
		Deadline:       deadline,
		Timeout:        timeout,
	}, nil
}

func mapAnnounceConfig(cfg *config.Config) (announce.Config, error) {
	format, err := announce.ParseFormat(cfg.Node.Format)
	if err != nil {
		return announce.Config{}, err
	}
	timeout, err := config.ParseDurationField("node.timeout", cfg.Node.Timeout)
	if err != nil {
		return announce.Config{}, err
	}
	return announce.Config{
		NodeURL:      cfg.Node.URL,
		Format:       format,
		AcceptStatus: cfg.Node.AcceptStatus,
		Timeout:      timeout,
	}, nil
}

func mapServerConfig(cfg *config.Config) (invoke.Config, error) {
	sc := cfg.Server
	read, err := config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 15*time.Second)
	if err != nil {
		return invoke.Config{}, err
	}
	// A dispatch request runs a whole batch, so the write timeout defaults high.
	write, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 10*time.Minute)
	if err != nil {
		return invoke.Config{}, err
	}
	trusted, err := invoke.ParseTrustedProxies(sc.TrustedProxies)
	if err != nil {
		return invoke.Config{}, err
	}
	return invoke.Config{
		Addr:           sc.Addr,
		Token:          sc.Token,
		RateLimit:      sc.RateLimit,
		Burst:          sc.Burst,
		Pprof:          sc.Pprof,
		TrustedProxies: trusted,
		MaxTotal:       maxBatch(cfg),
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    time.Minute,
	}, nil
}

// maxBatch is the largest run the configuration allows.
func maxBatch(cfg *config.Config) int {
	if cfg.Dispatch.MaxTotal > 0 {
		return cfg.Dispatch.MaxTotal
	}
	return dispatch.DefaultMaxTotal
}

// RunConfig turns the configured dispatch defaults into a run shape.
func RunConfig(cfg *config.Config) (dispatch.Config, error) {
	mode, err := dispatch.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Total:            cfg.Dispatch.Count,
		ConcurrencyLimit: max(cfg.Dispatch.Concurrency, 1),
		RatePerSecond:    cfg.Dispatch.Rate,
		Mode:             mode,
	}, nil
}

// fillRequest applies the configured transfer template to empty fields.
func fillRequest(cfg *config.Config, req ledger.Request) ledger.Request {
	if strings.TrimSpace(req.Recipient) == "" {
		req.Recipient = strings.TrimSpace(cfg.Transfer.Recipient)
	}
	if req.Message == "" {
		req.Message = cfg.Transfer.Message
	}
	if req.Message == "" {
		req.Message = config.DefaultMessage
	}
	if req.Amount == 0 {
		req.Amount = cfg.Transfer.Amount
	}
	if req.Amount == 0 {
		req.Amount = config.DefaultAmount
	}
	return req
}
