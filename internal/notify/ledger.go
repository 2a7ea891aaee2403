package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// MemoryLedger keeps claims in process memory.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
	return nil
}

const ledgerPrefix = "notify:sent:"

// BadgerLedger persists claims so a restart does not re-notify. Entries
// expire after ttl.
type BadgerLedger struct {
	db  *badger.DB
	log *slog.Logger
	ttl time.Duration
}

func NewBadgerLedger(db *badger.DB, log *slog.Logger, ttl time.Duration) *BadgerLedger {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &BadgerLedger{db: db, log: log, ttl: ttl}
}

func (l *BadgerLedger) Claim(_ context.Context, key string) (bool, error) {
	k := []byte(ledgerPrefix + key)
	claimed := false
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		e := badger.NewEntry(k, []byte(time.Now().UTC().Format(time.RFC3339Nano))).WithTTL(l.ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent transaction wrote the same key first
		l.log.Debug("notification claim lost race", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger claim: %w", err)
	}
	return claimed, nil
}

func (l *BadgerLedger) Release(_ context.Context, key string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(ledgerPrefix + key))
	})
}
