package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
// Retain keeps only the newest N runs; 0 keeps everything.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int
}

// RunRecord is the persisted summary of one dispatch run.
// Keep it compact and schema-stable.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
	Trigger    string    `json:"trigger"` // cli | http | schedule
	Mode       string    `json:"mode"`
	Total      int       `json:"total"`
	Announced  int       `json:"announced"`
	Failed     int       `json:"failed"`
	Errored    int       `json:"errored"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Throughput float64   `json:"throughput"`
	LastHash   string    `json:"last_hash,omitempty"`
	Error      string    `json:"error,omitempty"`
}
