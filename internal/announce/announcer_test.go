package announce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgercast/internal/ledger"
	logx "ledgercast/pkg/logx"
)

func newNode(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPut || r.URL.Path != "/transactions" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func sampleTx() ledger.SignedTx {
	return ledger.SignedTx{Payload: []byte{0xde, 0xad, 0xbe, 0xef}, Hash: "ABCDEF"}
}

func TestAnnounceAccepted(t *testing.T) {
	srv, calls := newNode(t, http.StatusAccepted, `{"message":"packet 9 was pushed to the network via /transactions"}`)
	a, err := New(Config{NodeURL: srv.URL}, nil, logx.Nop())
	require.NoError(t, err)

	out := a.Announce(context.Background(), sampleTx())
	require.True(t, out.Success)
	require.Equal(t, ledger.StatusAnnounced, out.Status)
	require.Equal(t, "ABCDEF", out.Hash)
	require.Empty(t, out.ErrorDetail)
	require.True(t, out.Valid())
	require.EqualValues(t, 1, calls.Load())
}

func TestAnnounceRejected(t *testing.T) {
	srv, _ := newNode(t, http.StatusBadRequest, "InsufficientBalance")
	a, err := New(Config{NodeURL: srv.URL + "/"}, nil, logx.Nop())
	require.NoError(t, err)

	out := a.Announce(context.Background(), sampleTx())
	require.False(t, out.Success)
	require.Equal(t, ledger.StatusFailed, out.Status)
	require.Equal(t, "InsufficientBalance", out.ErrorDetail)
	require.Equal(t, http.StatusBadRequest, out.HTTPStatus)
	require.True(t, out.Valid())

	var rej *ledger.NodeRejection
	require.ErrorAs(t, out.Err(), &rej)
	require.Equal(t, http.StatusBadRequest, rej.StatusCode)
	require.Equal(t, "InsufficientBalance", rej.Body)
}

func TestAnnounceOtherSuccessCodesAreRejections(t *testing.T) {
	// 200 is not the accept code; only 202 counts.
	srv, _ := newNode(t, http.StatusOK, "ok")
	a, err := New(Config{NodeURL: srv.URL}, nil, logx.Nop())
	require.NoError(t, err)

	out := a.Announce(context.Background(), sampleTx())
	require.Equal(t, ledger.StatusFailed, out.Status)
	require.NotEqual(t, ledger.StatusAnnounced, out.Status)
}

func TestAnnounceTransportError(t *testing.T) {
	srv, _ := newNode(t, http.StatusAccepted, "")
	url := srv.URL
	srv.Close()

	a, err := New(Config{NodeURL: url, Timeout: time.Second}, nil, logx.Nop())
	require.NoError(t, err)

	out := a.Announce(context.Background(), sampleTx())
	require.False(t, out.Success)
	require.Equal(t, ledger.StatusError, out.Status)
	require.NotEmpty(t, out.ErrorDetail)
	require.Zero(t, out.HTTPStatus)
	require.True(t, out.Valid())
}

func TestAnnounceClassificationIsIdempotent(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
	}{
		{"accepted", http.StatusAccepted, ""},
		{"rejected", http.StatusConflict, "Failure_Core_Past_Deadline"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newNode(t, tc.status, tc.body)
			a, err := New(Config{NodeURL: srv.URL}, nil, logx.Nop())
			require.NoError(t, err)

			first := a.Announce(context.Background(), sampleTx())
			second := a.Announce(context.Background(), sampleTx())
			require.Equal(t, first, second)
		})
	}
}

func TestAnnounceJSONFormat(t *testing.T) {
	var got jsonPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a, err := New(Config{NodeURL: srv.URL, Format: FormatJSON}, nil, logx.Nop())
	require.NoError(t, err)

	out := a.Announce(context.Background(), sampleTx())
	require.True(t, out.Success)
	require.Equal(t, "application/json", contentType)
	require.Equal(t, "DEADBEEF", got.Payload)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{}, nil, logx.Nop())
	require.True(t, ledger.IsConfigurationError(err))

	_, err = New(Config{NodeURL: "ftp://node"}, nil, logx.Nop())
	require.True(t, ledger.IsConfigurationError(err))

	_, err = New(Config{NodeURL: "http://node:3000", Format: "xml"}, nil, logx.Nop())
	require.True(t, ledger.IsConfigurationError(err))
}
