package eventlog

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-state/vpn"
)

func TestEncodeDecodeEvent(t *testing.T) {
	event := Event{
		Timestamp:    time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC),
		ConnectionID: 7,
		Category:     CategoryImc,
		Profile:      "office",
		OldValue:     "Unknown",
		NewValue:     "Isolate",
		Remediation:  []vpn.RemediationInstruction{{Title: "Enable firewall", Items: []string{"ufw"}}},
	}

	data, err := EncodeEvent(event)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
	decoded.Timestamp = event.Timestamp
	assert.Equal(t, event, decoded)
}

func TestCategory_String(t *testing.T) {
	assert.Equal(t, "RETRY", CategoryRetry.String())
	assert.Equal(t, "UNKNOWN", Category(99).String())
}

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	r, err := OpenTrace(path, filter)
	require.NoError(t, err)
	defer r.Close()
	var events []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func TestTrace_WriteAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.vlog")
	w, err := CreateTrace(path)
	require.NoError(t, err)

	now := time.Now()
	w.Log(Event{Timestamp: now, ConnectionID: 1, Category: CategoryConnection, Profile: "office", NewValue: "Connecting"})
	w.Log(Event{Timestamp: now, ConnectionID: 1, Category: CategoryError, Profile: "office", OldValue: "None", NewValue: "Unreachable"})
	w.Log(Event{Timestamp: now.Add(time.Minute), ConnectionID: 2, Category: CategoryConnection, Profile: "home", NewValue: "Connecting"})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Zero(t, w.Dropped())

	assert.Len(t, readAll(t, path, Filter{}), 3)

	conn := uint64(1)
	category := CategoryError
	events := readAll(t, path, Filter{ConnectionID: &conn, Category: &category})
	require.Len(t, events, 1)
	assert.Equal(t, "Unreachable", events[0].NewValue)

	assert.Len(t, readAll(t, path, Filter{Profile: "home"}), 1)
	assert.Len(t, readAll(t, path, Filter{Since: now.Add(time.Second)}), 1)
}

func TestTrace_LogAfterCloseIsDropped(t *testing.T) {
	w, err := CreateTrace(filepath.Join(t.TempDir(), "events.vlog"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w.Log(Event{ConnectionID: 3})
	assert.Equal(t, uint64(1), w.Dropped())
}

func TestTrace_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.vlog")
	for id := uint64(1); id <= 2; id++ {
		w, err := CreateTrace(path)
		require.NoError(t, err)
		w.Log(Event{ConnectionID: id, Category: CategoryConnection})
		require.NoError(t, w.Close())
	}

	events := readAll(t, path, Filter{})
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].ConnectionID)
	assert.Equal(t, uint64(2), events[1].ConnectionID)
}

func TestOpenTrace_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.vlog")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	assert.Empty(t, readAll(t, path, Filter{}))
}

func TestOpenTrace_RejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"profiles": []}`), 0600))

	_, err := OpenTrace(path, Filter{})
	assert.ErrorIs(t, err, ErrNotATrace)
}

func TestOpenTrace_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.vlog")
	data, err := encMode.Marshal(traceHeader{Magic: traceMagic, Version: traceVersion + 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = OpenTrace(path, Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported trace version 2")
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(logger).Log(Event{ConnectionID: 4, Category: CategoryRetry, RetryIn: 3 * time.Second, RetryTimeout: 5 * time.Second})

	out := buf.String()
	assert.Contains(t, out, "conn_id=4")
	assert.Contains(t, out, "category=RETRY")
	assert.Contains(t, out, "retry_in=3s")
}

type memoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func (m *memoryLogger) Log(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func TestMultiLogger(t *testing.T) {
	a, b := &memoryLogger{}, &memoryLogger{}
	m := NewMultiLogger(a, nil, b, NoopLogger{})

	m.Log(Event{ConnectionID: 1})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

type fixedSource struct {
	snap vpn.Snapshot
}

func (f *fixedSource) Snapshot() vpn.Snapshot { return f.snap }

func TestRecorder(t *testing.T) {
	src := &fixedSource{}
	mem := &memoryLogger{}
	r := NewRecorder(src, mem)

	src.snap = vpn.Snapshot{ConnectionID: 1, State: vpn.StateConnecting, Profile: &vpn.Profile{Name: "office"}}
	require.NoError(t, r.StateChanged())
	require.Len(t, mem.events, 1)
	assert.Equal(t, CategoryConnection, mem.events[0].Category)
	assert.Equal(t, "office", mem.events[0].Profile)

	src.snap.Error = vpn.ErrorUnreachable
	src.snap.RetryTimeout = 5 * time.Second
	src.snap.RetryIn = 5 * time.Second
	require.NoError(t, r.StateChanged())
	require.Len(t, mem.events, 3)
	assert.Equal(t, CategoryError, mem.events[1].Category)
	assert.Equal(t, "None", mem.events[1].OldValue)
	assert.Equal(t, CategoryRetry, mem.events[2].Category)

	src.snap.RetryIn = 4 * time.Second
	require.NoError(t, r.StateChanged())
	require.Len(t, mem.events, 4)
	assert.Equal(t, 4*time.Second, mem.events[3].RetryIn)

	src.snap.Imc = vpn.ImcIsolate
	src.snap.RemediationInstructions = []vpn.RemediationInstruction{{Title: "Enable firewall"}}
	require.NoError(t, r.StateChanged())
	require.Len(t, mem.events, 5)
	assert.Equal(t, CategoryImc, mem.events[4].Category)
	assert.Len(t, mem.events[4].Remediation, 1)

	// nothing changed
	require.NoError(t, r.StateChanged())
	assert.Len(t, mem.events, 5)
}
