package ledger

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Status is the terminal classification of one unit of work.
type Status string

const (
	StatusAnnounced Status = "announced"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// SeqPlaceholder in Request.Message is replaced by the unit's submission index,
// so a batch does not produce byte-identical transactions.
const SeqPlaceholder = "{seq}"

// Request describes one transfer. All units of a run share the same template.
type Request struct {
	Recipient string `json:"recipientAddress,omitempty"`
	Message   string `json:"message,omitempty"`
	Amount    uint64 `json:"amountMinorUnits,omitempty"`
}

// ForUnit returns a copy of r with SeqPlaceholder expanded for unit idx.
func (r Request) ForUnit(idx int) Request {
	if strings.Contains(r.Message, SeqPlaceholder) {
		r.Message = strings.ReplaceAll(r.Message, SeqPlaceholder, strconv.Itoa(idx))
	}
	return r
}

// SignedTx is what a transaction engine hands to the announcer.
type SignedTx struct {
	Payload []byte
	// Hash is the upper-case hex content hash.
	Hash string
}

// Outcome is the terminal result of one build-sign-announce unit.
//
// Exactly one of these holds:
//   - Success=true, Status=announced
//   - Success=false, Status in {failed, error}, ErrorDetail set
type Outcome struct {
	Index       int           `json:"index"`
	Success     bool          `json:"success"`
	Hash        string        `json:"transactionHash,omitempty"`
	Status      Status        `json:"status"`
	ErrorDetail string        `json:"error,omitempty"`
	HTTPStatus  int           `json:"httpStatus,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func Announced(hash string, httpStatus int) Outcome {
	return Outcome{Success: true, Hash: hash, Status: StatusAnnounced, HTTPStatus: httpStatus}
}

// Rejected is a node-level rejection: the node answered with a non-accept code.
func Rejected(hash string, httpStatus int, body string) Outcome {
	if strings.TrimSpace(body) == "" {
		body = "node returned status " + strconv.Itoa(httpStatus)
	}
	return Outcome{Hash: hash, Status: StatusFailed, ErrorDetail: body, HTTPStatus: httpStatus}
}

// Errored covers everything that never produced a node verdict:
// engine failures, transport faults, units that were never admitted.
func Errored(hash string, err error) Outcome {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return Outcome{Hash: hash, Status: StatusError, ErrorDetail: detail}
}

// Err rebuilds the typed error behind a failed outcome: *NodeRejection for
// failed, a plain error for error, nil for announced.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusAnnounced:
		return nil
	case StatusFailed:
		return &NodeRejection{StatusCode: o.HTTPStatus, Body: o.ErrorDetail}
	default:
		return errors.New(o.ErrorDetail)
	}
}

// Valid reports whether o satisfies the outcome invariant.
func (o Outcome) Valid() bool {
	switch o.Status {
	case StatusAnnounced:
		return o.Success && o.ErrorDetail == ""
	case StatusFailed, StatusError:
		return !o.Success && o.ErrorDetail != ""
	default:
		return false
	}
}
