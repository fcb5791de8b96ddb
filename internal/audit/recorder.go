package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinical-chat-gateway/internal/logger"
	"clinical-chat-gateway/internal/redaction"
)

// Recorder encodes scrubbed conversations and hands them to a Sink.
type Recorder struct {
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

// NewRecorder returns a Recorder writing to sink. A nil log discards output.
func NewRecorder(sink Sink, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Discard()
	}
	return &Recorder{sink: sink, log: log, now: time.Now}
}

// SinkName reports which sink is in use.
func (r *Recorder) SinkName() string { return r.sink.Name() }

// Record stores conv with meta and returns the stored entry. A zero
// meta.SavedAt is set to the current time; Degraded and Redactions are
// filled from conv.
func (r *Recorder) Record(ctx context.Context, conv redaction.Scrubbed, meta Meta) (Entry, error) {
	if meta.SavedAt.IsZero() {
		meta.SavedAt = r.now().UTC()
	}
	meta.Degraded = meta.Degraded || conv.Degraded()
	if len(conv.Counts) > 0 {
		meta.Redactions = make(map[string]int, len(conv.Counts))
		for tok, n := range conv.Counts {
			meta.Redactions[string(tok)] = n
		}
	}

	rec := Record{
		ID:       uuid.NewString(),
		Messages: conv.Messages(),
		Meta:     meta,
	}
	blob, err := Encode(rec)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{ID: rec.ID, SavedAt: meta.SavedAt, Blob: blob}
	if err := r.sink.Store(ctx, e); err != nil {
		r.log.Errorf("record", "store %s via %s: %v", e.ID, r.sink.Name(), err)
		return Entry{}, fmt.Errorf("store audit record: %w", err)
	}
	r.log.Infof("record", "saved %s via %s", e.ID, r.sink.Name())
	return e, nil
}

// Close closes the sink.
func (r *Recorder) Close() error { return r.sink.Close() }
