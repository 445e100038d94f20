package txengine

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgercast/internal/ledger"
	logx "ledgercast/pkg/logx"
)

const testKey = "ABF4CF55A2B3F742D7543D9CC17F50447B969E6E06F5EA9195D428AB12B7318D"

func testRecipient(t *testing.T, network byte) Address {
	t.Helper()
	digest := make([]byte, 20)
	for i := range digest {
		digest[i] = byte(i * 7)
	}
	a, err := NewAddress(network, digest)
	require.NoError(t, err)
	return a
}

func newTimeNode(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/node/time" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEngine(t *testing.T, nodeURL string) *Symbol {
	t.Helper()
	s, err := NewSymbol(Config{PrivateKey: testKey, NodeURL: nodeURL, MosaicID: 0x72C0212E67A08BCE}, nil, logx.Nop())
	require.NoError(t, err)
	return s
}

func TestAddressParse(t *testing.T) {
	t.Parallel()
	a := testRecipient(t, NetworkTestnet)
	s := a.String()
	require.Len(t, s, 39)
	require.True(t, strings.HasPrefix(s, "T"))

	got, err := ParseAddress(strings.ToLower(s[:6]) + "-" + s[6:])
	require.NoError(t, err)
	require.Equal(t, a, got)

	// Flip one character to break the checksum.
	bad := []byte(s)
	if bad[10] == 'A' {
		bad[10] = 'B'
	} else {
		bad[10] = 'A'
	}
	_, err = ParseAddress(string(bad))
	require.Error(t, err)

	_, err = ParseAddress("TSHORT")
	require.Error(t, err)
}

func TestBuildProducesVerifiableTransfer(t *testing.T) {
	t.Parallel()
	srv := newTimeNode(t, `{"communicationTimestamps":{"sendTimestamp":"1000","receiveTimestamp":"1000"}}`, http.StatusOK)
	s := newEngine(t, srv.URL)
	recipient := testRecipient(t, NetworkTestnet)

	tx, err := s.Build(context.Background(), ledger.Request{Recipient: recipient.String(), Message: "hello", Amount: 1000})
	require.NoError(t, err)
	require.Len(t, tx.Hash, 64)
	require.Equal(t, strings.ToUpper(tx.Hash), tx.Hash)

	p := tx.Payload
	require.EqualValues(t, len(p), binary.LittleEndian.Uint32(p[0:4]))

	body := p[bodyStart:]
	require.Equal(t, transferVersion, body[0])
	require.Equal(t, NetworkTestnet, body[1])
	require.Equal(t, transferType, binary.LittleEndian.Uint16(body[2:4]))
	require.Equal(t, DefaultFee, binary.LittleEndian.Uint64(body[4:12]))
	require.EqualValues(t, 1000+7_200_000, binary.LittleEndian.Uint64(body[12:20]))
	require.Equal(t, recipient[:], body[20:44])
	require.True(t, strings.HasSuffix(string(p), "\x00hello"))

	pub := p[signatureStart+ed25519.SignatureSize : signatureStart+ed25519.SignatureSize+ed25519.PublicKeySize]
	require.Equal(t, s.PublicKey(), strings.ToUpper(hex.EncodeToString(pub)))
	sig := p[signatureStart : signatureStart+ed25519.SignatureSize]
	signing := append(append([]byte{}, s.genHash...), body...)
	require.True(t, ed25519.Verify(ed25519.PublicKey(pub), signing, sig))
}

func TestSignIsDeterministic(t *testing.T) {
	t.Parallel()
	s := newEngine(t, "http://node.invalid:3000")
	tr := Transfer{Recipient: testRecipient(t, NetworkTestnet), MosaicID: 1, Amount: 5, Message: "x", Deadline: 42}

	a := s.Sign(tr)
	b := s.Sign(tr)
	require.Equal(t, a, b)

	tr.Message = "y"
	require.NotEqual(t, a.Hash, s.Sign(tr).Hash)
}

func TestBuildFailuresAreEngineErrors(t *testing.T) {
	t.Parallel()
	recipient := testRecipient(t, NetworkTestnet).String()

	for _, tc := range []struct {
		name string
		url  func() string
		req  ledger.Request
	}{
		{"node time status", func() string { return newTimeNode(t, "busy", http.StatusServiceUnavailable).URL }, ledger.Request{Recipient: recipient}},
		{"node time body", func() string { return newTimeNode(t, `{"communicationTimestamps":{}}`, http.StatusOK).URL }, ledger.Request{Recipient: recipient}},
		{"bad recipient", func() string { return "http://node.invalid:3000" }, ledger.Request{Recipient: "nope"}},
		{"wrong network", func() string { return "http://node.invalid:3000" }, ledger.Request{Recipient: testRecipient(t, NetworkMainnet).String()}},
		{"long message", func() string { return "http://node.invalid:3000" }, ledger.Request{Recipient: recipient, Message: strings.Repeat("m", 2000)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newEngine(t, tc.url())
			_, err := s.Build(context.Background(), tc.req)
			var ee *ledger.EngineError
			require.True(t, errors.As(err, &ee), "got %v", err)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	base := Config{PrivateKey: testKey, NodeURL: "http://node:3000", MosaicID: 1}
	require.NoError(t, base.Validate())

	for field, mutate := range map[string]func(*Config){
		"SYMBOL_PRIVATE_KEY": func(c *Config) { c.PrivateKey = "" },
		"SYMBOL_NODE_URL":    func(c *Config) { c.NodeURL = "node:3000" },
		"SYMBOL_MOSAIC_ID":   func(c *Config) { c.MosaicID = 0 },
		"SYMBOL_NETWORK":     func(c *Config) { c.Network = "devnet" },
	} {
		c := base
		mutate(&c)
		err := c.Validate()
		require.True(t, ledger.IsConfigurationError(err), field)
		require.Contains(t, err.Error(), field)
	}
}
