// Package embedstore persists computed embeddings in BadgerDB so a restarted
// engine can skip the model for inputs it has already seen. It is the warm
// tier behind the in-memory inference cache.
package embedstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/inference"
)

// keyPrefix namespaces embedding records inside the database.
const keyPrefix = "emb/"

// Config holds the database settings.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string `json:"path" yaml:"path"`
	InMemory   bool   `json:"in_memory" yaml:"inMemory"`
	SyncWrites bool   `json:"sync_writes" yaml:"syncWrites"`
	// GCInterval is how often value-log garbage collection runs. Zero
	// disables it.
	GCInterval     time.Duration `json:"gc_interval" yaml:"gcInterval"`
	GCDiscardRatio float64       `json:"gc_discard_ratio" yaml:"gcDiscardRatio"`
	// Logger receives badger's internal log lines. Nil silences them.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns durable settings with GC every five minutes.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a badger-backed inference.EmbeddingStore. It is safe for
// concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ inference.EmbeddingStore = (*Store)(nil)

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("embedstore: path is required for a persistent store")
	}
	if cfg.GCDiscardRatio < 0 || cfg.GCDiscardRatio > 1 {
		return nil, fmt.Errorf("embedstore: gc discard ratio must be in [0, 1], got %g", cfg.GCDiscardRatio)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("embedstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embedstore: open: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops garbage collection and closes the database. Calling it more
// than once is safe.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
		err = s.db.Close()
	})
	return err
}

// Load returns the embedding stored under key.
func (s *Store) Load(ctx context.Context, key string) (*compress.ProjectEmbedding, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedstore: load %s: %w", key, err)
	}
	e, err := compress.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("embedstore: load %s: %w", key, err)
	}
	return e, true, nil
}

// Save writes e under key, replacing any previous value.
func (s *Store) Save(ctx context.Context, key string, e *compress.ProjectEmbedding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("embedstore: save %s: nil embedding", key)
	}
	var buf bytes.Buffer
	if err := compress.EncodeBinary(&buf, e, true); err != nil {
		return fmt.Errorf("embedstore: encode %s: %w", key, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(key), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("embedstore: save %s: %w", key, err)
	}
	return nil
}

// Keys returns every stored key that starts with prefix, in key order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = recordKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedstore: list %q: %w", prefix, err)
	}
	return keys, nil
}

// Count returns the number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx, "")
	return len(keys), err
}

// Purge deletes every key that starts with prefix and returns how many
// were removed. An empty prefix clears the store.
func (s *Store) Purge(ctx context.Context, prefix string) (int, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(recordKey(k)); err != nil {
			return 0, fmt.Errorf("embedstore: purge %q: %w", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("embedstore: purge %q: %w", prefix, err)
	}
	return len(keys), nil
}

// Models returns the model fingerprints that own stored embeddings, in
// order. Keys are "<model>/<graph key>".
func (s *Store) Models(ctx context.Context) ([]string, error) {
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	var models []string
	for _, k := range keys {
		model, _, _ := strings.Cut(k, "/")
		if n := len(models); n == 0 || models[n-1] != model {
			models = append(models, model)
		}
	}
	return models, nil
}

// PurgeStale deletes the embeddings of every model except keep and
// returns how many were removed.
func (s *Store) PurgeStale(ctx context.Context, keep string) (int, error) {
	models, err := s.Models(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range models {
		if m == keep {
			continue
		}
		n, err := s.Purge(ctx, m+"/")
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			switch {
			case err == nil:
				s.logger.Debug("embedstore value log gc completed")
			case !errors.Is(err, badger.ErrNoRewrite):
				s.logger.Warn("embedstore value log gc failed", slog.String("error", err.Error()))
			}
		}
	}
}

func recordKey(key string) []byte {
	return []byte(keyPrefix + key)
}
