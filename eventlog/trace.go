package eventlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	traceMagic   = "vpn-state-trace"
	traceVersion = 1
)

// ErrNotATrace is returned when a file does not start with a trace header.
var ErrNotATrace = errors.New("not an event trace")

// traceHeader is the first record of every trace file.
type traceHeader struct {
	Magic   string `cbor:"1,keyasint"`
	Version uint8  `cbor:"2,keyasint"`
}

// TraceWriter appends events to a trace file. A new or empty file gets a
// header first, so traces of several runs can share one file.
type TraceWriter struct {
	mu      sync.Mutex
	file    *os.File
	enc     *cbor.Encoder
	dropped atomic.Uint64
}

// CreateTrace opens path for appending, creating it with mode 0600.
func CreateTrace(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &TraceWriter{file: f, enc: NewEncoder(f)}
	if info.Size() == 0 {
		if err := w.enc.Encode(traceHeader{Magic: traceMagic, Version: traceVersion}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write trace header: %w", err)
		}
	}
	return w, nil
}

// Log appends event. Failures are counted, not returned: a broken trace
// never holds up a state change.
func (w *TraceWriter) Log(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil || w.enc.Encode(event) != nil {
		w.dropped.Add(1)
	}
}

// Dropped returns how many events could not be written.
func (w *TraceWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Close closes the file; events logged afterwards count as dropped.
func (w *TraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

var _ Logger = (*TraceWriter)(nil)

// Filter selects events from a trace. Zero fields match everything.
type Filter struct {
	ConnectionID *uint64
	Category     *Category
	Profile      string
	Since        time.Time
}

func (f Filter) match(e Event) bool {
	switch {
	case f.ConnectionID != nil && e.ConnectionID != *f.ConnectionID:
		return false
	case f.Category != nil && e.Category != *f.Category:
		return false
	case f.Profile != "" && e.Profile != f.Profile:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// TraceReader streams the events of a trace file in the order they were
// written.
type TraceReader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
	empty  bool
}

// OpenTrace opens the trace at path, returning only events that match filter.
func OpenTrace(path string, filter Filter) (*TraceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &TraceReader{file: f, dec: NewDecoder(f), filter: filter}

	var header traceHeader
	switch err := r.dec.Decode(&header); {
	case errors.Is(err, io.EOF):
		r.empty = true
	case err != nil, header.Magic != traceMagic:
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotATrace)
	case header.Version != traceVersion:
		f.Close()
		return nil, fmt.Errorf("%s: unsupported trace version %d", path, header.Version)
	}
	return r, nil
}

// Next returns the next matching event, or io.EOF after the last one.
func (r *TraceReader) Next() (Event, error) {
	if r.empty {
		return Event{}, io.EOF
	}
	for {
		var e Event
		if err := r.dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.match(e) {
			return e, nil
		}
	}
}

// Close closes the trace file.
func (r *TraceReader) Close() error {
	return r.file.Close()
}
