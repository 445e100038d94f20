package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgercast/internal/ledger"
)

const testKey = "ABF4CF55A2B3F742D7543D9CC17F50447B969E6E06F5EA9195D428AB12B7318D"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func parse(t *testing.T, path string, lookup LookupFunc) (*Config, error) {
	t.Helper()
	m := NewConfigManager(path)
	m.SetEnvLookup(lookup)
	return m.Parse()
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"c.json": `{"node":{"url":"http://node:3000"},"dispatch":{"mode":"concurrent","count":10,"concurrency":4,"rate":2.5},"logging":{"level":"debug","console":true,"file":{"enabled":false}}}`,
		"c.yaml": `
node:
  url: http://node:3000
dispatch:
  mode: concurrent
  count: 10
  concurrency: 4
  rate: 2.5
logging:
  level: debug
  console: true
  file:
    enabled: false
`,
		"c.toml": `
[node]
url = "http://node:3000"

[dispatch]
mode = "concurrent"
count = 10
concurrency = 4
rate = 2.5

[logging]
level = "debug"
console = true
[logging.file]
enabled = false
`,
	}
	for name, body := range files {
		cfg, err := parse(t, writeFile(t, name, body), noEnv)
		require.NoError(t, err, name)
		require.Equal(t, "http://node:3000", cfg.Node.URL, name)
		require.Equal(t, DispatchConfig{Mode: "concurrent", Count: 10, Concurrency: 4, Rate: 2.5}, cfg.Dispatch, name)
		require.Equal(t, "debug", cfg.Logging.Level, name)
		// defaults
		require.Equal(t, "json", cfg.Node.Format, name)
		require.Equal(t, DefaultMessage, cfg.Transfer.Message, name)
		require.EqualValues(t, DefaultAmount, cfg.Transfer.Amount, name)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"c.json": `{"node":{"url":"http://n","timeout_ms":5}}`,
		"c.yaml": "telegram:\n  token: x\n",
		"c.toml": "[plugins]\nx = 1\n",
	} {
		_, err := parse(t, writeFile(t, name, body), noEnv)
		require.Error(t, err, name)
	}
	_, err := parse(t, writeFile(t, "c.json", `{}{}`), noEnv)
	require.Error(t, err)
}

func TestParseWithoutFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := parse(t, "", noEnv)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.Node.Network)
	require.Equal(t, DefaultAddr, cfg.Server.Addr)
	require.Equal(t, "sequential", cfg.Dispatch.Mode)
	require.Equal(t, 1, cfg.Dispatch.Count)
}

func TestEnvironmentOverlaysFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.yaml", "node:\n  url: http://file-node:3000\nsigner:\n  mosaic_id: \"0x1\"\n")
	cfg, err := parse(t, p, envMap(map[string]string{
		EnvPrivateKey: testKey,
		EnvNodeURL:    "https://env-node:3001",
		EnvRecipient:  "TRECIPIENT",
		EnvMosaicID:   "72C0212E67A08BCE",
		EnvNetwork:    "mainnet",
		EnvLogLevel:   "warn",
		EnvSchedule:   "every:1m",
	}))
	require.NoError(t, err)
	require.Equal(t, "https://env-node:3001", cfg.Node.URL)
	require.Equal(t, "mainnet", cfg.Node.Network)
	require.Equal(t, "72C0212E67A08BCE", cfg.Signer.MosaicID)
	require.Equal(t, testKey, cfg.Signer.PrivateKey)
	require.Equal(t, "TRECIPIENT", cfg.Transfer.Recipient)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.True(t, cfg.Schedule.Enabled)
	require.Equal(t, "every:1m", cfg.Schedule.Spec)
	require.NoError(t, cfg.ValidateCredentials())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	for name, mutate := range map[string]func(*Config){
		"node.timeout":       func(c *Config) { c.Node.Timeout = "soon" },
		"node.format":        func(c *Config) { c.Node.Format = "xml" },
		"node.accept_status": func(c *Config) { c.Node.AcceptStatus = 42 },
		"dispatch.rate":      func(c *Config) { c.Dispatch.Rate = -1 },
		"dispatch.max_total": func(c *Config) { c.Dispatch.MaxTotal = -1 },
		"dispatch.count":     func(c *Config) { c.Dispatch.MaxTotal, c.Dispatch.Count = 5, 10 },
		"storage.driver":     func(c *Config) { c.Storage.Driver = "postgres" },
		"schedule.spec":      func(c *Config) { c.Schedule.Enabled = true },
	} {
		cfg := Default()
		mutate(cfg)
		err := cfg.Validate()
		require.True(t, ledger.IsConfigurationError(err), name)
		require.Contains(t, err.Error(), name)
	}
	require.NoError(t, Default().Validate())
}

func TestValidateCredentials(t *testing.T) {
	t.Parallel()
	good := func() *Config {
		c := Default()
		c.Signer.PrivateKey = testKey
		c.Signer.MosaicID = "0x72C0212E67A08BCE"
		c.Node.URL = "http://node:3000"
		c.Transfer.Recipient = "TRECIPIENT"
		return c
	}
	require.NoError(t, good().ValidateCredentials())

	for field, mutate := range map[string]func(*Config){
		EnvPrivateKey: func(c *Config) { c.Signer.PrivateKey = "" },
		EnvNodeURL:    func(c *Config) { c.Node.URL = "ftp://node" },
		EnvRecipient:  func(c *Config) { c.Transfer.Recipient = " " },
		EnvMosaicID:   func(c *Config) { c.Signer.MosaicID = "zz" },
	} {
		c := good()
		mutate(c)
		err := c.ValidateCredentials()
		require.True(t, ledger.IsConfigurationError(err), field)
		require.Contains(t, err.Error(), field)
	}
}

func TestParseDotEnv(t *testing.T) {
	t.Parallel()
	vars, err := parseDotEnv(strings.NewReader(`
# comment
SYMBOL_NODE_URL=http://node:3000 # trailing
export SYMBOL_NETWORK=testnet
SYMBOL_MESSAGE="hello \"world\"\nbye"
SINGLE='a # not a comment'
EMPTY=
`))
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"SYMBOL_NODE_URL": "http://node:3000",
		"SYMBOL_NETWORK":  "testnet",
		"SYMBOL_MESSAGE":  "hello \"world\"\nbye",
		"SINGLE":          "a # not a comment",
		"EMPTY":           "",
	}, vars)

	_, err = parseDotEnv(strings.NewReader("NOEQUALS\n"))
	require.Error(t, err)
	_, err = parseDotEnv(strings.NewReader(`K="open`))
	require.Error(t, err)
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	key := fmt.Sprintf("LEDGERCAST_TEST_%d", time.Now().UnixNano())
	t.Setenv(key, "from-env")
	p := writeFile(t, ".env", key+"=from-file\n"+key+"_NEW=fresh\n")

	require.NoError(t, LoadDotEnv(p))
	require.Equal(t, "from-env", os.Getenv(key))
	require.Equal(t, "fresh", os.Getenv(key+"_NEW"))
	require.NoError(t, os.Unsetenv(key+"_NEW"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestParseMosaicID(t *testing.T) {
	t.Parallel()
	id, err := ParseMosaicID("0x72C0212E67A08BCE")
	require.NoError(t, err)
	require.Equal(t, uint64(0x72C0212E67A08BCE), id)

	_, err = ParseMosaicID("")
	require.Error(t, err)
}

func TestSummarizeConfigChangeHidesPrivateKey(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Signer.PrivateKey = testKey
	newCfg.Logging.Level = "debug"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"signer", "logging"}, changed)
	require.Len(t, attrs, 7)
	require.Equal(t, []string{"signer"}, RestartRequired(changed))

	changed, _ = SummarizeConfigChange(oldCfg, Default())
	require.Empty(t, changed)
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeFile(t, "c.yaml", "logging:\n  level: info\n  console: true\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ch, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("logging:\n  level: debug\n  console: true\n"), 0o600))

	select {
	case cfg := <-ch:
		require.Equal(t, "debug", cfg.Logging.Level)
		require.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after write")
	}
}
