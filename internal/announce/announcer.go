package announce

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgercast/internal/ledger"
	logx "ledgercast/pkg/logx"
)

// Format selects how the signed payload is put on the wire.
type Format string

const (
	// FormatRaw sends the payload bytes as the request body.
	FormatRaw Format = "raw"
	// FormatJSON sends {"payload": "<UPPER HEX>"}.
	FormatJSON Format = "json"
)

const (
	defaultAcceptStatus = http.StatusAccepted
	defaultTimeout      = 15 * time.Second
	maxResponseBody     = 64 << 10
)

// Config controls the announcer.
//
// AcceptStatus defaults to 202; any other status is a node rejection.
type Config struct {
	NodeURL      string
	Format       Format
	AcceptStatus int
	Timeout      time.Duration
}

// Announcer submits one signed payload per call and classifies the response.
// It holds no per-call state, so a single instance is shared by all units of a run.
type Announcer struct {
	endpoint string
	format   Format
	accept   int
	client   *http.Client
	log      logx.Logger
}

// New validates cfg and builds an announcer. client may be nil.
func New(cfg Config, client *http.Client, log logx.Logger) (*Announcer, error) {
	endpoint, err := TransactionsURL(cfg.NodeURL)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	accept := cfg.AcceptStatus
	if accept == 0 {
		accept = defaultAcceptStatus
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Announcer{endpoint: endpoint, format: format, accept: accept, client: client, log: log}, nil
}

// ParseFormat maps a config string onto a Format. Empty means raw.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatRaw:
		return FormatRaw, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", ledger.InvalidField("node.payload_format", fmt.Sprintf("unknown format %q (use raw or json)", s))
	}
}

// TransactionsURL derives the PUT endpoint from the node base URL.
func TransactionsURL(nodeURL string) (string, error) {
	raw := strings.TrimSpace(nodeURL)
	if raw == "" {
		return "", ledger.MissingField("node.url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ledger.InvalidField("node.url", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ledger.InvalidField("node.url", "scheme must be http or https")
	}
	if u.Host == "" {
		return "", ledger.InvalidField("node.url", "host is required")
	}
	return strings.TrimRight(u.String(), "/") + "/transactions", nil
}

// Endpoint returns the resolved submission URL.
func (a *Announcer) Endpoint() string { return a.endpoint }

// Announce never returns an error: every failure is folded into the outcome.
func (a *Announcer) Announce(ctx context.Context, tx ledger.SignedTx) ledger.Outcome {
	body, contentType, err := a.encode(tx)
	if err != nil {
		return ledger.Errored(tx.Hash, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return ledger.Errored(tx.Hash, &ledger.TransportError{Op: "build request", Err: err})
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn("announce transport error", logx.String("hash", tx.Hash), logx.Err(err))
		return ledger.Errored(tx.Hash, &ledger.TransportError{Op: "put transactions", Err: err})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		a.log.Warn("announce response read failed", logx.String("hash", tx.Hash), logx.Int("status", resp.StatusCode), logx.Err(err))
		return ledger.Errored(tx.Hash, &ledger.TransportError{Op: "read response", Err: err})
	}

	if resp.StatusCode == a.accept {
		a.log.Debug("transaction announced", logx.String("hash", tx.Hash), logx.Int("status", resp.StatusCode))
		return ledger.Announced(tx.Hash, resp.StatusCode)
	}

	rej := &ledger.NodeRejection{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	a.log.Warn("transaction rejected by node", logx.String("hash", tx.Hash), logx.Err(rej))
	return ledger.Rejected(tx.Hash, rej.StatusCode, rej.Body)
}

type jsonPayload struct {
	Payload string `json:"payload"`
}

func (a *Announcer) encode(tx ledger.SignedTx) ([]byte, string, error) {
	if len(tx.Payload) == 0 {
		return nil, "", fmt.Errorf("empty payload")
	}
	switch a.format {
	case FormatJSON:
		b, err := json.Marshal(jsonPayload{Payload: strings.ToUpper(hex.EncodeToString(tx.Payload))})
		if err != nil {
			return nil, "", fmt.Errorf("marshal payload: %w", err)
		}
		return b, "application/json", nil
	default:
		return tx.Payload, "application/octet-stream", nil
	}
}
