package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgercast/internal/config"
	"ledgercast/internal/dispatch"
	"ledgercast/internal/ledger"
	"ledgercast/internal/storage"
	"ledgercast/internal/txengine"
)

const testKey = "ABF4CF55A2B3F742D7543D9CC17F50447B969E6E06F5EA9195D428AB12B7318D"

type fakeNode struct {
	*httptest.Server
	calls    atomic.Int64
	announce atomic.Int64
	status   int
}

func newFakeNode(t *testing.T, status int) *fakeNode {
	t.Helper()
	n := &fakeNode{status: status}
	n.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.calls.Add(1)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/node/time":
			_, _ = w.Write([]byte(`{"communicationTimestamps":{"sendTimestamp":"1000","receiveTimestamp":"1000"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/transactions":
			n.announce.Add(1)
			w.WriteHeader(n.status)
			if n.status != http.StatusAccepted {
				_, _ = w.Write([]byte(`{"code":"InsufficientBalance"}`))
				return
			}
			_, _ = w.Write([]byte(`{"message":"packet 9 was pushed to the network via /transactions"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(n.Close)
	return n
}

func recipient(t *testing.T) string {
	t.Helper()
	addr, err := txengine.NewAddress(txengine.NetworkTestnet, make([]byte, 20))
	require.NoError(t, err)
	return addr.String()
}

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ledgercast.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func envOf(m map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func newTestApp(t *testing.T, nodeURL string, env map[string]string) *App {
	t.Helper()
	path := writeConfig(t, map[string]any{
		"node":    map[string]any{"url": nodeURL},
		"signer":  map[string]any{"mosaic_id": "72C0212E67A08BCE"},
		"storage": map[string]any{"driver": "file", "path": filepath.Join(t.TempDir(), "history")},
		"logging": map[string]any{"level": "error", "console": true},
	})
	full := map[string]string{
		config.EnvPrivateKey: testKey,
		config.EnvRecipient:  recipient(t),
	}
	for k, v := range env {
		full[k] = v
	}
	a, err := New(path, WithEnvLookup(envOf(full)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSendAnnounces(t *testing.T) {
	node := newFakeNode(t, http.StatusAccepted)
	a := newTestApp(t, node.URL, nil)

	r := a.Send(context.Background(), ledger.Request{})
	require.True(t, r.Success, r.Error)
	require.Equal(t, "announced", r.Status)
	require.Len(t, r.TransactionHash, 64)
	require.EqualValues(t, 1, node.announce.Load())

	runs, err := a.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, TriggerCLI, runs[0].Trigger)
	require.Equal(t, r.TransactionHash, runs[0].LastHash)
}

func TestSendRejectedCarriesNodeBody(t *testing.T) {
	node := newFakeNode(t, http.StatusBadRequest)
	a := newTestApp(t, node.URL, nil)

	r := a.Send(context.Background(), ledger.Request{Message: "x", Amount: 1})
	require.False(t, r.Success)
	require.Equal(t, "failed", r.Status)
	require.Contains(t, r.Error, "InsufficientBalance")
}

func TestMissingCredentialMakesNoNetworkCalls(t *testing.T) {
	node := newFakeNode(t, http.StatusAccepted)
	a := newTestApp(t, node.URL, map[string]string{config.EnvPrivateKey: ""})

	_, err := a.RunBatch(context.Background(), dispatch.Config{Total: 3, ConcurrencyLimit: 2, Mode: dispatch.BoundedConcurrent}, ledger.Request{}, TriggerCLI)
	var cerr *ledger.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, config.EnvPrivateKey, cerr.Field)
	require.Zero(t, node.calls.Load())

	r := a.Send(context.Background(), ledger.Request{})
	require.False(t, r.Success)
	require.Equal(t, "error", r.Status)

	runs, err := a.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.NotEmpty(t, runs[0].Error)
}

func TestRunBatchConcurrent(t *testing.T) {
	node := newFakeNode(t, http.StatusAccepted)
	a := newTestApp(t, node.URL, nil)

	res, err := a.RunBatch(context.Background(), dispatch.Config{Total: 5, ConcurrencyLimit: 3, Mode: dispatch.BoundedConcurrent},
		ledger.Request{Message: "batch {seq}"}, TriggerSchedule)
	require.NoError(t, err)
	announced, failed, errored := res.Counts()
	require.Equal(t, 5, announced)
	require.Zero(t, failed+errored)
	require.LessOrEqual(t, res.PeakInFlight, 3)

	hashes := map[string]bool{}
	for _, o := range res.Outcomes {
		hashes[o.Hash] = true
	}
	require.Len(t, hashes, 5, fmt.Sprintf("%v", hashes))
}

func TestRunBatchRejectsOversizedBatch(t *testing.T) {
	node := newFakeNode(t, http.StatusAccepted)
	a := newTestApp(t, node.URL, nil)

	_, err := a.RunBatch(context.Background(), dispatch.Config{Total: dispatch.DefaultMaxTotal + 1, Mode: dispatch.Sequential}, ledger.Request{}, TriggerCLI)
	var cerr *ledger.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "dispatch.total", cerr.Field)
	require.Zero(t, node.calls.Load())

	sc, err := mapServerConfig(a.Config())
	require.NoError(t, err)
	require.Equal(t, dispatch.DefaultMaxTotal, sc.MaxTotal)
}

func TestHistoryDisabled(t *testing.T) {
	a, err := New("", WithEnvLookup(envOf(map[string]string{config.EnvLogLevel: "error"})))
	require.NoError(t, err)
	defer a.Close()
	_, err = a.History(context.Background(), 5)
	require.ErrorIs(t, err, storage.ErrDisabled)
}

func TestRunConfigFromDefaults(t *testing.T) {
	t.Parallel()
	rc, err := RunConfig(config.Default())
	require.NoError(t, err)
	require.Equal(t, dispatch.Config{Total: 1, ConcurrencyLimit: 1, Mode: dispatch.Sequential}, rc)
}

func TestFillRequest(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Transfer.Recipient = "TADDR"
	got := fillRequest(cfg, ledger.Request{Amount: 7})
	require.Equal(t, ledger.Request{Recipient: "TADDR", Message: config.DefaultMessage, Amount: 7}, got)
}
