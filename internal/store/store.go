// Package store persists insight history and dismissals in BadgerDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
)

// Key prefixes for BadgerDB storage
const (
	historyKeyPrefix   = "history/"
	dismissalKeyPrefix = "dismissal/"
)

// DefaultHistoryTTL bounds how long archived insights are kept
const DefaultHistoryTTL = 90 * 24 * time.Hour

// Options configures the store
type Options struct {
	// Path of the database directory. Empty opens an in-memory database.
	Path string
	// HistoryTTL expires archived insights; zero keeps them forever.
	HistoryTTL time.Duration
	// GCInterval is the value log GC cadence of Serve.
	GCInterval time.Duration
}

// Dismissal records that a user dismissed an insight
type Dismissal struct {
	PracticeID  string    `json:"practice_id"`
	InsightID   string    `json:"insight_id"`
	DismissedAt time.Time `json:"dismissed_at"`
}

// Store implements the insight history and dismissal stores
type Store struct {
	db         *badger.DB
	historyTTL time.Duration
	gcInterval time.Duration
}

// Open opens or creates the database
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(badgerLogger{logrus.WithField("component", "badger")})
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	gc := opts.GCInterval
	if gc <= 0 {
		gc = 10 * time.Minute
	}
	return &Store{db: db, historyTTL: opts.HistoryTTL, gcInterval: gc}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func historyPrefix(practiceID string) string {
	return historyKeyPrefix + practiceID + "/"
}

func historyKey(practiceID string, insight model.Insight) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", historyPrefix(practiceID), insight.Timestamp.UnixNano(), insight.ID))
}

func dismissalKey(practiceID, insightID string) []byte {
	return []byte(dismissalKeyPrefix + practiceID + "/" + insightID)
}

// AppendInsights archives insights under their timestamp
func (s *Store) AppendInsights(ctx context.Context, practiceID string, insights []model.Insight) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, insight := range insights {
			data, err := json.Marshal(insight)
			if err != nil {
				return fmt.Errorf("marshal insight %s: %w", insight.ID, err)
			}
			e := badger.NewEntry(historyKey(practiceID, insight), data)
			if s.historyTTL > 0 {
				e = e.WithTTL(s.historyTTL)
			}
			if err := txn.SetEntry(e); err != nil {
				return fmt.Errorf("set insight %s: %w", insight.ID, err)
			}
		}
		return nil
	})
}

// ListInsights returns the archived insights at or after since, newest first
func (s *Store) ListInsights(ctx context.Context, practiceID string, since time.Time) ([]model.Insight, error) {
	var out []model.Insight
	prefix := []byte(historyPrefix(practiceID))
	cutoff := since.UnixNano()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// seek past the newest key carrying the prefix
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			ts, err := keyTimestamp(item.Key(), len(prefix))
			if err != nil {
				logrus.WithField("key", string(item.Key())).Warn("Skipping malformed history key")
				continue
			}
			if ts < cutoff {
				break
			}

			var insight model.Insight
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &insight)
			}); err != nil {
				return fmt.Errorf("decode insight %s: %w", item.Key(), err)
			}
			out = append(out, insight)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func keyTimestamp(key []byte, prefixLen int) (int64, error) {
	rest := string(key[prefixLen:])
	ts, _, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, errors.New("missing timestamp separator")
	}
	return strconv.ParseInt(ts, 10, 64)
}

// RecordDismissal stores a dismissal; repeating it keeps the latest time
func (s *Store) RecordDismissal(ctx context.Context, practiceID, insightID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(Dismissal{PracticeID: practiceID, InsightID: insightID, DismissedAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("marshal dismissal: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dismissalKey(practiceID, insightID), data)
	})
}

// Dismissal returns the recorded dismissal of an insight, if any
func (s *Store) Dismissal(ctx context.Context, practiceID, insightID string) (Dismissal, bool, error) {
	var d Dismissal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dismissalKey(practiceID, insightID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Dismissal{}, false, nil
	}
	if err != nil {
		return Dismissal{}, false, fmt.Errorf("get dismissal: %w", err)
	}
	return d, true, nil
}

// Serve runs value log garbage collection until ctx is done
func (s *Store) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collectGarbage()
		}
	}
}

func (s *Store) collectGarbage() {
	for {
		err := s.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
			logrus.WithError(err).Warn("Badger value log GC failed")
		}
		return
	}
}

func (s *Store) String() string {
	return "insight-store"
}

// badgerLogger routes badger's logging to logrus, demoting its info chatter
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.entry.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.entry.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.entry.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.entry.Tracef(format, args...) }
