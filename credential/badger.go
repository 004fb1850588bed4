package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerConfig configures the embedded on-disk store.
type BadgerConfig struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
	TTL        time.Duration
}

// BadgerStore persists credentials in an embedded Badger database, the
// durable client-side storage used by the CLI.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerStore opens (or creates) the database at cfg.Dir.
func OpenBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttlOrZero(cfg.TTL)}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) Load(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	var token, role string
	var hasToken, hasRole bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		token, hasToken, err = readString(txn, TokenKey)
		if err != nil {
			return err
		}
		role, hasRole, err = readString(txn, RoleKey)
		return err
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return pairFrom(token, role, hasToken, hasRole)
}

func (s *BadgerStore) Save(ctx context.Context, creds Credentials) error {
	if err := validate(creds); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(s.entry(TokenKey, creds.Token)); err != nil {
			return err
		}
		return txn.SetEntry(s.entry(RoleKey, creds.Role))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(TokenKey)); err != nil {
			return err
		}
		return txn.Delete([]byte(RoleKey))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *BadgerStore) entry(key, value string) *badger.Entry {
	e := badger.NewEntry([]byte(key), []byte(value))
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	return e
}

func readString(txn *badger.Txn, key string) (string, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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
