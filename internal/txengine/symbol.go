// Package txengine builds and signs transfer transactions for a Symbol-style ledger node.
//
// The binary layout is the transfer transaction v1 wire format:
//
//	size(4) reserved(4) signature(64) signer(32) reserved(4)
//	version(1) network(1) type(2) fee(8) deadline(8)
//	recipient(24) message_size(2) mosaics_count(1) reserved(4) reserved(1)
//	mosaics(16 each) message
//
// Everything from version onward is the signed body.
package txengine

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"ledgercast/internal/ledger"
	logx "ledgercast/pkg/logx"
)

const (
	transferType    uint16 = 0x4154
	transferVersion byte   = 1

	DefaultFee      uint64 = 30000
	DefaultDeadline        = 2 * time.Hour

	headerSize     = 4 + 4 + ed25519.SignatureSize + ed25519.PublicKeySize + 4
	signatureStart = 8
	bodyStart      = headerSize
	messagePrefix  = 0x00 // plain message marker
	maxMessageSize = 1024
)

// Generation hash seeds of the public networks.
var generationHashes = map[string]string{
	"mainnet": "57F7DA205008026C776CB6AED843393F04CD458E0AA2D9F1D5F31A402072B2D6",
	"testnet": "49D6E1CE276A85B70EAFE52349AACCA389302E7A9754BCF1221E79494FC665A4",
}

var networkIDs = map[string]byte{
	"mainnet": NetworkMainnet,
	"testnet": NetworkTestnet,
}

// Config holds the read-only signing material and node settings.
type Config struct {
	PrivateKey     string // hex, 32-byte seed
	NodeURL        string
	Network        string // testnet (default) or mainnet
	GenerationHash string // hex; overrides the network default
	MosaicID       uint64
	Fee            uint64
	Deadline       time.Duration
	Timeout        time.Duration
}

// Validate reports the first missing or malformed field as a *ledger.ConfigurationError.
func (c Config) Validate() error {
	_, err := c.resolve()
	return err
}

type resolved struct {
	key      ed25519.PrivateKey
	network  byte
	genHash  []byte
	timeURL  string
	fee      uint64
	deadline time.Duration
}

func (c Config) resolve() (resolved, error) {
	var r resolved

	pk := strings.TrimSpace(c.PrivateKey)
	if pk == "" {
		return r, ledger.MissingField("SYMBOL_PRIVATE_KEY")
	}
	seed, err := hex.DecodeString(pk)
	if err != nil || len(seed) != ed25519.SeedSize {
		return r, ledger.InvalidField("SYMBOL_PRIVATE_KEY", "must be 64 hex characters")
	}
	r.key = ed25519.NewKeyFromSeed(seed)

	if strings.TrimSpace(c.NodeURL) == "" {
		return r, ledger.MissingField("SYMBOL_NODE_URL")
	}
	u, err := url.Parse(strings.TrimSpace(c.NodeURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return r, ledger.InvalidField("SYMBOL_NODE_URL", "must be an http(s) URL")
	}
	r.timeURL = strings.TrimRight(u.String(), "/") + "/node/time"

	if c.MosaicID == 0 {
		return r, ledger.MissingField("SYMBOL_MOSAIC_ID")
	}

	network := strings.ToLower(strings.TrimSpace(c.Network))
	if network == "" {
		network = "testnet"
	}
	id, ok := networkIDs[network]
	if !ok {
		return r, ledger.InvalidField("SYMBOL_NETWORK", fmt.Sprintf("unknown network %q", c.Network))
	}
	r.network = id

	gh := strings.TrimSpace(c.GenerationHash)
	if gh == "" {
		gh = generationHashes[network]
	}
	r.genHash, err = hex.DecodeString(gh)
	if err != nil || len(r.genHash) != 32 {
		return r, ledger.InvalidField("node.generation_hash", "must be 64 hex characters")
	}

	r.fee = c.Fee
	if r.fee == 0 {
		r.fee = DefaultFee
	}
	r.deadline = c.Deadline
	if r.deadline <= 0 {
		r.deadline = DefaultDeadline
	}
	return r, nil
}

// Symbol is the reference transaction engine. It is safe for concurrent use.
type Symbol struct {
	resolved
	mosaicID uint64
	client   *http.Client
	log      logx.Logger
}

// NewSymbol validates cfg and prepares the signer. client may be nil.
func NewSymbol(cfg Config, client *http.Client, log logx.Logger) (*Symbol, error) {
	r, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Symbol{resolved: r, mosaicID: cfg.MosaicID, client: client, log: log}, nil
}

// PublicKey is the signer public key in upper-case hex.
func (s *Symbol) PublicKey() string {
	return strings.ToUpper(hex.EncodeToString(s.key.Public().(ed25519.PublicKey)))
}

// Build fetches the node time, then encodes, signs and hashes one transfer.
// Every failure is a *ledger.EngineError.
func (s *Symbol) Build(ctx context.Context, req ledger.Request) (ledger.SignedTx, error) {
	recipient, err := ParseAddress(req.Recipient)
	if err != nil {
		return ledger.SignedTx{}, &ledger.EngineError{Err: fmt.Errorf("recipient: %w", err)}
	}
	if recipient.Network() != s.network {
		return ledger.SignedTx{}, &ledger.EngineError{Err: fmt.Errorf("recipient %s belongs to another network", recipient)}
	}

	if len(req.Message)+1 > maxMessageSize {
		return ledger.SignedTx{}, &ledger.EngineError{Err: fmt.Errorf("message exceeds %d bytes", maxMessageSize-1)}
	}

	now, err := s.NetworkTime(ctx)
	if err != nil {
		return ledger.SignedTx{}, &ledger.EngineError{Err: err}
	}
	if now == 0 {
		return ledger.SignedTx{}, &ledger.EngineError{Err: fmt.Errorf("node time missing receiveTimestamp")}
	}
	deadline := now + uint64(s.deadline/time.Millisecond)

	tx := s.Sign(Transfer{
		Recipient: recipient,
		MosaicID:  s.mosaicID,
		Amount:    req.Amount,
		Message:   req.Message,
		Deadline:  deadline,
	})
	s.log.Debug("transaction built", logx.String("hash", tx.Hash), logx.Uint64("deadline", deadline))
	return tx, nil
}

// Transfer is the variable part of one transaction.
type Transfer struct {
	Recipient Address
	MosaicID  uint64
	Amount    uint64
	Message   string
	Deadline  uint64
}

// Sign encodes t, signs it and computes its hash. It is deterministic for a given key and input.
func (s *Symbol) Sign(t Transfer) ledger.SignedTx {
	payload := s.encode(t)
	body := payload[bodyStart:]

	signing := make([]byte, 0, len(s.genHash)+len(body))
	signing = append(signing, s.genHash...)
	signing = append(signing, body...)
	sig := ed25519.Sign(s.key, signing)
	copy(payload[signatureStart:], sig)

	h := sha3.New256()
	h.Write(sig)
	h.Write(s.key.Public().(ed25519.PublicKey))
	h.Write(s.genHash)
	h.Write(body)

	return ledger.SignedTx{
		Payload: payload,
		Hash:    strings.ToUpper(hex.EncodeToString(h.Sum(nil))),
	}
}

func (s *Symbol) encode(t Transfer) []byte {
	msg := append([]byte{messagePrefix}, t.Message...)
	size := headerSize + 1 + 1 + 2 + 8 + 8 + addressSize + 2 + 1 + 4 + 1 + 16 + len(msg)

	b := make([]byte, 0, size)
	b = binary.LittleEndian.AppendUint32(b, uint32(size))
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, make([]byte, ed25519.SignatureSize)...)
	b = append(b, s.key.Public().(ed25519.PublicKey)...)
	b = binary.LittleEndian.AppendUint32(b, 0)

	b = append(b, transferVersion, s.network)
	b = binary.LittleEndian.AppendUint16(b, transferType)
	b = binary.LittleEndian.AppendUint64(b, s.fee)
	b = binary.LittleEndian.AppendUint64(b, t.Deadline)

	b = append(b, t.Recipient[:]...)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(msg)))
	b = append(b, 1) // mosaics count
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, 0)
	b = binary.LittleEndian.AppendUint64(b, t.MosaicID)
	b = binary.LittleEndian.AppendUint64(b, t.Amount)
	b = append(b, msg...)
	return b
}
