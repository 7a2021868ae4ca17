package artifact

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
)

// Event is one `events.jsonl` record (spec §6, SUPPLEMENTAL FEATURES
// "Event log"). The writer accepts any type string; the engine emits
// trade_exit and policy_reject events only, grounded in the teacher's
// step.go per-tick diagnostics.
type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	TsMs int64          `json:"ts_ms"`
	Data map[string]any `json:"data,omitempty"`
}

// EventWriter appends newline-delimited JSON events to a file, the
// optional event log of spec §6.
type EventWriter struct {
	f       *os.File
	enc     *json.Encoder
	idSeed  string
	counter int
}

// NewEventWriter creates (or truncates) path and returns a writer whose
// event IDs are deterministically derived from idSeed — spec §8's
// determinism requirement rules out a random UUID per event.
func NewEventWriter(path, idSeed string) (*EventWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &EventWriter{f: f, enc: json.NewEncoder(f), idSeed: idSeed}, nil
}

// Emit appends one event of eventType at tsMs with the given data.
func (w *EventWriter) Emit(eventType string, tsMs int64, data map[string]any) error {
	name := fmt.Sprintf("%s/event/%d", w.idSeed, w.counter)
	w.counter++
	ev := Event{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(), Type: eventType, TsMs: tsMs, Data: data}
	return w.enc.Encode(ev)
}

// Close flushes and closes the underlying file.
func (w *EventWriter) Close() error { return w.f.Close() }
