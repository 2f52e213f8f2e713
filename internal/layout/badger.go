package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

var keyPrefix = []byte("layout/")

// BadgerConfig configures a Badger-backed layout memory.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string
	// InMemory keeps the database in RAM; positions are lost on Close.
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerMemory persists positions in Badger so they survive restarts.
type BadgerMemory struct {
	db     *badger.DB
	closed atomic.Bool
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (or creates) a layout database.
func OpenBadger(cfg BadgerConfig) (*BadgerMemory, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("layout path is required for persistent storage")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create layout directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open layout database: %w", err)
	}
	return &BadgerMemory{db: db}, nil
}

func key(id string) []byte {
	return append(append([]byte{}, keyPrefix...), id...)
}

func (m *BadgerMemory) Get(id string) (Position, bool, error) {
	if m.closed.Load() {
		return Position{}, false, ErrClosed
	}
	var pos Position
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pos)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("get position %s: %w", id, err)
	}
	return pos, true, nil
}

func (m *BadgerMemory) Put(id string, pos Position) error {
	if m.closed.Load() {
		return ErrClosed
	}
	val, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	if err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), val)
	}); err != nil {
		return fmt.Errorf("put position %s: %w", id, err)
	}
	return nil
}

func (m *BadgerMemory) Clear() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.db.DropPrefix(keyPrefix); err != nil {
		return fmt.Errorf("clear layout: %w", err)
	}
	return nil
}

// Count returns the number of stored positions.
func (m *BadgerMemory) Count() (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (m *BadgerMemory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.db.Close()
}

var _ Memory = (*BadgerMemory)(nil)
