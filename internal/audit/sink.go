package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clinical-chat-gateway/internal/logger"
)

// ErrNotFound is returned by Lookup for an unknown record ID.
var ErrNotFound = errors.New("audit record not found")

// Entry is an encoded record as handed to a Sink.
type Entry struct {
	ID      string
	SavedAt time.Time
	Blob    string
}

// Sink stores encoded records. Implementations must be safe for concurrent
// use.
type Sink interface {
	Name() string
	Store(ctx context.Context, e Entry) error
	Close() error
}

// Lookuper is implemented by sinks that can read records back.
type Lookuper interface {
	Lookup(ctx context.Context, id string) (Entry, error)
}

// Sink kinds accepted by NewSink.
const (
	SinkLog    = "log"
	SinkBolt   = "bbolt"
	SinkSQLite = "sqlite"
)

// NewSink opens the sink named by kind. path is ignored by the log sink.
func NewSink(kind, path string, log *logger.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SinkLog:
		return NewLogSink(log), nil
	case SinkBolt, "bolt":
		s, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case SinkSQLite, "sqlite3":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", kind)
	}
}

// LogSink writes the record identifier and blob size to the log and keeps
// nothing else.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink returns a LogSink. A nil log discards output.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Discard()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return SinkLog }

func (s *LogSink) Store(_ context.Context, e Entry) error {
	s.log.Infof("store", "audit record %s (%d bytes encoded)", e.ID, len(e.Blob))
	return nil
}

func (s *LogSink) Close() error { return nil }

func ensureDir(path string) error {
	if path == "" {
		return errors.New("audit path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create audit directory %s: %w", dir, err)
		}
	}
	return nil
}
