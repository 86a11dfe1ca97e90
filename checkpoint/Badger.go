package checkpoint

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig describes a Badger Store
type BadgerConfig struct {
	// Path is the database directory, ignored when InMemory is true
	Path     string
	InMemory bool

	Key string

	// Logger receives BadgerDB's internal logging. If nil, BadgerDB's
	// internal logging is disabled.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger stores a model in an embedded BadgerDB database
type Badger struct {
	db  *badger.DB
	key []byte
}

// NewBadger opens the database described by c
func NewBadger(c BadgerConfig) (*Badger, error) {
	if !c.InMemory && c.Path == "" {
		return nil, errors.New("newbadger: path is required for persistent " +
			"database")
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}

	var opts badger.Options
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(c.Path, 0750); err != nil {
			return nil, fmt.Errorf("newbadger: create database directory "+
				"%s: %w", c.Path, err)
		}
		opts = badger.DefaultOptions(c.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if c.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: c.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("newbadger: open badger database: %w", err)
	}
	return &Badger{db: db, key: []byte(c.Key)}, nil
}

// Save implements the Store interface
func (b *Badger) Save(ctx context.Context, obj gob.GobEncoder) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	data, err := obj.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode model: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load implements the Store interface
func (b *Badger) Load(ctx context.Context, into gob.GobDecoder) (bool,
	error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("load: %w", err)
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load: %w", err)
	}

	if err := decodeInto(into, data); err != nil {
		return false, fmt.Errorf("load: %w", err)
	}
	return true, nil
}

// Close closes the database
func (b *Badger) Close() error {
	return b.db.Close()
}
