// Package checkpoint persists value functions between runs of the
// agent.
package checkpoint

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultKey is the name a model is stored under when none is given
const DefaultKey = "j2hh_learning_model"

// ErrCorrupt is returned when a stored model cannot be decoded
var ErrCorrupt = errors.New("corrupt checkpoint")

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Store saves and loads a single serialized model
type Store interface {
	// Save replaces the stored model with obj
	Save(ctx context.Context, obj gob.GobEncoder) error

	// Load decodes the stored model into into. If nothing has been
	// stored Load returns false and a nil error.
	Load(ctx context.Context, into gob.GobDecoder) (bool, error)

	Close() error
}

// Backend determines the type of Store to open
type Backend string

const (
	FileBackend   Backend = "file"
	BadgerBackend Backend = "badger"
	RedisBackend  Backend = "redis"
	NoneBackend   Backend = "none"
)

// Config describes a Store
type Config struct {
	Backend Backend `yaml:"backend" validate:"omitempty,oneof=file badger redis none"`

	// Path is the file of the file backend or the database directory of
	// the badger backend
	Path string `yaml:"path"`

	RedisAddr string `yaml:"redis_addr"`
	Key       string `yaml:"key"`
}

// Open opens the Store described by c. The empty backend is the file
// backend.
func Open(c Config, logger *slog.Logger) (Store, error) {
	key := c.Key
	if key == "" {
		key = DefaultKey
	}

	switch c.Backend {
	case FileBackend, "":
		path := c.Path
		if path == "" {
			path = key
		}
		return NewFile(path), nil

	case BadgerBackend:
		if c.Path == "" {
			return nil, fmt.Errorf("open: badger backend requires a path")
		}
		return NewBadger(BadgerConfig{Path: c.Path, Key: key,
			Logger: logger})

	case RedisBackend:
		if c.RedisAddr == "" {
			return nil, fmt.Errorf("open: redis backend requires an address")
		}
		return NewRedis(c.RedisAddr, key), nil

	case NoneBackend:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("open: unknown checkpoint backend %q", c.Backend)
}

// Nop is a Store which stores nothing
type Nop struct{}

func (Nop) Save(context.Context, gob.GobEncoder) error { return nil }

func (Nop) Load(context.Context, gob.GobDecoder) (bool, error) {
	return false, nil
}

func (Nop) Close() error { return nil }

// decodeInto decodes a stored model, wrapping failures as ErrCorrupt
func decodeInto(into gob.GobDecoder, data []byte) error {
	if err := into.GobDecode(data); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return nil
}
