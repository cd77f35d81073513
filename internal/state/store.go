// Package state is the typed client over the account keyspace in the
// key-value store.
package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aevon-lab/balance-stream/internal/core/balance"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/shopspring/decimal"
)

// Options controls TTLs and the per-call timeout.
type Options struct {
	EODTTL       time.Duration
	DedupTTL     time.Duration
	StoreTimeout time.Duration
}

// AccountStore reads and writes Account Real-Time State.
type AccountStore struct {
	kv   storage.KeyValueStore
	opts Options
}

func NewAccountStore(kv storage.KeyValueStore, opts Options) *AccountStore {
	if opts.EODTTL <= 0 {
		opts.EODTTL = 25 * time.Hour
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 25 * time.Hour
	}
	return &AccountStore{kv: kv, opts: opts}
}

func key(pattern, id string) string {
	return fmt.Sprintf(pattern, id)
}

func (s *AccountStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

func (s *AccountStore) getOptional(ctx context.Context, k string) (string, bool, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	v, err := s.kv.Get(ctx, k)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *AccountStore) getDecimal(ctx context.Context, k string) (decimal.Decimal, bool, error) {
	raw, ok, err := s.getOptional(ctx, k)
	if err != nil || !ok {
		return decimal.Zero, ok, err
	}
	d, err := balance.ParseStored(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("key %s: %w", k, err)
	}
	return d, true, nil
}

// Load reads the full state. found is false when no balance, sum or limit
// key exists for the account.
func (s *AccountStore) Load(ctx context.Context, accountID string) (balance.AccountState, bool, error) {
	st := balance.AccountState{AccountID: accountID}

	eod, hasEOD, err := s.getDecimal(ctx, key(keyEODBalance, accountID))
	if err != nil {
		return st, false, fmt.Errorf("load eod balance: %w", err)
	}
	sum, hasSum, err := s.getDecimal(ctx, key(keyTransactionSum, accountID))
	if err != nil {
		return st, false, fmt.Errorf("load transaction sum: %w", err)
	}
	limit, hasLimit, err := s.getDecimal(ctx, key(keyFacilityLimit, accountID))
	if err != nil {
		return st, false, fmt.Errorf("load facility limit: %w", err)
	}
	ts, _, err := s.SnapshotTimestamp(ctx, accountID)
	if err != nil {
		return st, false, err
	}
	counter, _, err := s.SyncCounter(ctx, accountID)
	if err != nil {
		return st, false, err
	}

	st.EODBalance = eod
	st.EODSnapshotAt = ts
	st.TransactionSum = sum
	st.FacilityLimit = limit
	st.SyncCounter = counter
	return st, hasEOD || hasSum || hasLimit, nil
}

// SnapshotTimestamp returns the stored eod_snapshot_timestamp.
func (s *AccountStore) SnapshotTimestamp(ctx context.Context, accountID string) (time.Time, bool, error) {
	raw, ok, err := s.getOptional(ctx, key(keyEODTimestamp, accountID))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load eod timestamp: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load eod timestamp: parse %q: %w", raw, err)
	}
	return ts.UTC(), true, nil
}

// ApplyEOD writes a snapshot. resetSum is true for a new day's snapshot and
// false for a same-day correction.
func (s *AccountStore) ApplyEOD(ctx context.Context, accountID string, eodBalance decimal.Decimal, at time.Time, resetSum bool) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	ttl := s.opts.EODTTL
	if err := s.kv.Set(ctx, key(keyEODBalance, accountID), eodBalance.String(), ttl); err != nil {
		return fmt.Errorf("apply eod: set balance: %w", err)
	}
	if err := s.kv.Set(ctx, key(keyEODTimestamp, accountID), at.UTC().Format(time.RFC3339Nano), ttl); err != nil {
		return fmt.Errorf("apply eod: set timestamp: %w", err)
	}
	if resetSum {
		if err := s.kv.Set(ctx, key(keyTransactionSum, accountID), "0", ttl); err != nil {
			return fmt.Errorf("apply eod: reset transaction sum: %w", err)
		}
	}
	return nil
}

// AddTransaction folds a signed delta into transaction_sum.
func (s *AccountStore) AddTransaction(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	k := key(keyTransactionSum, accountID)
	sum, err := s.kv.IncrByFloat(ctx, k, delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("add transaction: %w", err)
	}
	if _, err := s.kv.Expire(ctx, k, s.opts.EODTTL); err != nil {
		return decimal.Zero, fmt.Errorf("add transaction: refresh ttl: %w", err)
	}
	return sum, nil
}

func (s *AccountStore) SetFacilityLimit(ctx context.Context, accountID string, limit decimal.Decimal) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.kv.Set(ctx, key(keyFacilityLimit, accountID), limit.String(), s.opts.EODTTL); err != nil {
		return fmt.Errorf("set facility limit: %w", err)
	}
	return nil
}

// SeenEOD reports whether an EOD dedup record exists for messageID.
func (s *AccountStore) SeenEOD(ctx context.Context, messageID string) (bool, error) {
	return s.exists(ctx, key(keyEODDedup, messageID))
}

// MarkEOD writes the EOD dedup record. The value is the processing time.
func (s *AccountStore) MarkEOD(ctx context.Context, messageID string, processedAt time.Time) error {
	return s.mark(ctx, key(keyEODDedup, messageID), processedAt)
}

func (s *AccountStore) SeenTransaction(ctx context.Context, messageID string) (bool, error) {
	return s.exists(ctx, key(keyTransactionSeen, messageID))
}

func (s *AccountStore) MarkTransaction(ctx context.Context, messageID string, processedAt time.Time) error {
	return s.mark(ctx, key(keyTransactionSeen, messageID), processedAt)
}

func (s *AccountStore) exists(ctx context.Context, k string) (bool, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	ok, err := s.kv.Exists(ctx, k)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return ok, nil
}

func (s *AccountStore) mark(ctx context.Context, k string, at time.Time) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.kv.Set(ctx, k, strconv.FormatInt(at.UnixMilli(), 10), s.opts.DedupTTL); err != nil {
		return fmt.Errorf("dedup record: %w", err)
	}
	return nil
}

// SyncCounter returns the rolling counter; ok is false once it has expired.
func (s *AccountStore) SyncCounter(ctx context.Context, accountID string) (int64, bool, error) {
	raw, ok, err := s.getOptional(ctx, key(keySyncCounter, accountID))
	if err != nil {
		return 0, false, fmt.Errorf("load sync counter: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("load sync counter: parse %q: %w", raw, err)
	}
	return n, true, nil
}

// ResetSyncCounter sets the counter to 0 with a fresh window TTL.
func (s *AccountStore) ResetSyncCounter(ctx context.Context, accountID string, window time.Duration) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.kv.Set(ctx, key(keySyncCounter, accountID), "0", window); err != nil {
		return fmt.Errorf("reset sync counter: %w", err)
	}
	return nil
}

// IncrSyncCounter increments and slides the TTL to window from now.
func (s *AccountStore) IncrSyncCounter(ctx context.Context, accountID string, window time.Duration) (int64, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	k := key(keySyncCounter, accountID)
	n, err := s.kv.Incr(ctx, k)
	if err != nil {
		return 0, fmt.Errorf("incr sync counter: %w", err)
	}
	if _, err := s.kv.Expire(ctx, k, window); err != nil {
		return 0, fmt.Errorf("incr sync counter: refresh ttl: %w", err)
	}
	return n, nil
}

// Ping checks the backing store.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}
