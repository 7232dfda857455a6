package aggregation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/conduit/internal/exchange"
	pebblestore "github.com/rzbill/conduit/internal/storage/pebble"
	"github.com/rzbill/conduit/pkg/log"
)

const (
	prefixAggregating = "agg/"  // in-flight aggregates by key
	prefixCompleted   = "done/" // completed exchanges awaiting confirm
)

// Options configures a Repository.
type Options struct {
	// Name registers the repository in the store's directory index. Required.
	Name string
	// KeyCodec converts correlation keys. Defaults to StringKeyCodec.
	KeyCodec KeyCodec
	// Endpoints restores the origin endpoint of loaded exchanges. Optional.
	Endpoints exchange.EndpointDirectory
	// SkipPrevious makes Add return nil instead of decoding the replaced
	// snapshot.
	SkipPrevious bool
	Logger       log.Logger
}

// Repository is a durable map from correlation key to the in-flight
// aggregate for that key. Every operation runs in its own store
// transaction; operations on the same key are serialized.
type Repository struct {
	db        *pebblestore.DB
	name      string
	prefix    []byte
	codec     KeyCodec
	endpoints exchange.EndpointDirectory
	locks     *keyLocks
	skipPrev  bool
	logger    log.Logger
}

// OpenRepository registers (or finds) the named repository in db.
func OpenRepository(ctx context.Context, db *pebblestore.DB, opts Options) (*Repository, error) {
	if opts.Name == "" {
		return nil, errors.New("aggregation: repository name is required")
	}
	id, err := db.Directory(ctx, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", opts.Name, err)
	}
	if opts.KeyCodec == nil {
		opts.KeyCodec = StringKeyCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Repository{
		db:        db,
		name:      opts.Name,
		prefix:    pebblestore.RepoPrefix(id),
		codec:     opts.KeyCodec,
		endpoints: opts.Endpoints,
		locks:     newKeyLocks(defaultStripes),
		skipPrev:  opts.SkipPrevious,
		logger:    opts.Logger.With(log.Component("aggregation-repository"), log.Str("repository", opts.Name)),
	}, nil
}

// Name returns the directory name of the repository.
func (r *Repository) Name() string { return r.name }

func (r *Repository) aggKey(kb []byte) []byte {
	k := make([]byte, 0, len(r.prefix)+len(prefixAggregating)+len(kb))
	k = append(k, r.prefix...)
	k = append(k, prefixAggregating...)
	return append(k, kb...)
}

func (r *Repository) doneKey(exchangeID string) []byte {
	k := make([]byte, 0, len(r.prefix)+len(prefixCompleted)+len(exchangeID))
	k = append(k, r.prefix...)
	k = append(k, prefixCompleted...)
	return append(k, exchangeID...)
}

func (r *Repository) bounds(sub string) *pebble.IterOptions {
	lower := append(append([]byte(nil), r.prefix...), sub...)
	// sub ends in '/', so bumping the last byte bounds every suffix.
	upper := append([]byte(nil), lower...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

// Add stores ex as the snapshot for key and returns the snapshot it
// replaced, or nil when key was absent or SkipPrevious is set.
func (r *Repository) Add(ctx context.Context, key Key, ex *exchange.Exchange) (*exchange.Exchange, error) {
	kb, err := r.codec.Marshal(key)
	if err != nil {
		return nil, wrap("add", key, err)
	}
	data, err := marshalExchange(ex, r.logger)
	if err != nil {
		return nil, wrap("add", key, err)
	}

	unlock := r.locks.lock(kb)
	defer unlock()

	prev, err := pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (*exchange.Exchange, error) {
		k := r.aggKey(kb)
		var prev *exchange.Exchange
		if r.skipPrev {
			return nil, tx.Set(k, data)
		}
		old, err := tx.Get(k)
		switch {
		case err == nil:
			if prev, err = unmarshalExchange(old, r.endpoints); err != nil {
				return nil, err
			}
		case !errors.Is(err, pebblestore.ErrNotFound):
			return nil, err
		}
		if err := tx.Set(k, data); err != nil {
			return nil, err
		}
		return prev, nil
	})
	if err != nil {
		return nil, wrap("add", key, err)
	}
	r.logger.Debug("added aggregate", log.Str("key", string(key)), log.Str("exchange", ex.ID), log.Bool("replaced", prev != nil))
	return prev, nil
}

// Get returns the snapshot stored for key, or nil when absent.
func (r *Repository) Get(ctx context.Context, key Key) (*exchange.Exchange, error) {
	kb, err := r.codec.Marshal(key)
	if err != nil {
		return nil, wrap("get", key, err)
	}

	unlock := r.locks.lock(kb)
	defer unlock()

	ex, err := pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (*exchange.Exchange, error) {
		data, err := tx.Get(r.aggKey(kb))
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return unmarshalExchange(data, r.endpoints)
	})
	if err != nil {
		return nil, wrap("get", key, err)
	}
	return ex, nil
}

// Remove deletes the snapshot for key. Removing an absent key is a no-op.
func (r *Repository) Remove(ctx context.Context, key Key) error {
	kb, err := r.codec.Marshal(key)
	if err != nil {
		return wrap("remove", key, err)
	}

	unlock := r.locks.lock(kb)
	defer unlock()

	_, err = pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (struct{}, error) {
		return struct{}{}, tx.Delete(r.aggKey(kb))
	})
	return wrap("remove", key, err)
}

// Complete removes key from the in-flight index and parks ex until it is
// confirmed, both in one transaction.
func (r *Repository) Complete(ctx context.Context, key Key, ex *exchange.Exchange) error {
	kb, err := r.codec.Marshal(key)
	if err != nil {
		return wrap("complete", key, err)
	}
	data, err := marshalExchange(ex, r.logger)
	if err != nil {
		return wrap("complete", key, err)
	}

	unlock := r.locks.lock(kb)
	defer unlock()

	_, err = pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (struct{}, error) {
		if err := tx.Delete(r.aggKey(kb)); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, tx.Set(r.doneKey(ex.ID), data)
	})
	return wrap("complete", key, err)
}

// Confirm drops a parked completed exchange.
func (r *Repository) Confirm(ctx context.Context, exchangeID string) error {
	_, err := pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (struct{}, error) {
		return struct{}{}, tx.Delete(r.doneKey(exchangeID))
	})
	return wrap("confirm", "", err)
}

// Keys lists the correlation keys currently aggregating.
func (r *Repository) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	err := r.scanPrefix(ctx, prefixAggregating, func(suffix []byte) error {
		k, err := r.codec.Unmarshal(suffix)
		if err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return nil, wrap("keys", "", err)
	}
	return keys, nil
}

// Scan lists the ids of completed exchanges not yet confirmed.
func (r *Repository) Scan(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.scanPrefix(ctx, prefixCompleted, func(suffix []byte) error {
		ids = append(ids, string(suffix))
		return nil
	})
	if err != nil {
		return nil, wrap("scan", "", err)
	}
	return ids, nil
}

// Recover loads a parked completed exchange, or nil when it was confirmed.
func (r *Repository) Recover(ctx context.Context, exchangeID string) (*exchange.Exchange, error) {
	ex, err := pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (*exchange.Exchange, error) {
		data, err := tx.Get(r.doneKey(exchangeID))
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return unmarshalExchange(data, r.endpoints)
	})
	if err != nil {
		return nil, wrap("recover", "", err)
	}
	return ex, nil
}

// Park re-stores a recovered exchange under its id, replacing the previous
// parked copy. Used to persist redelivery bookkeeping.
func (r *Repository) Park(ctx context.Context, ex *exchange.Exchange) error {
	data, err := marshalExchange(ex, r.logger)
	if err != nil {
		return wrap("park", "", err)
	}
	_, err = pebblestore.WithTransaction(ctx, r.db, func(tx *pebblestore.Tx) (struct{}, error) {
		return struct{}{}, tx.Set(r.doneKey(ex.ID), data)
	})
	return wrap("park", "", err)
}

func (r *Repository) scanPrefix(ctx context.Context, sub string, fn func(suffix []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := r.db.NewSnapshot()
	defer snap.Close()

	opts := r.bounds(sub)
	it, err := snap.NewIter(opts)
	if err != nil {
		return err
	}
	defer it.Close()

	skip := len(opts.LowerBound)
	for it.First(); it.Valid(); it.Next() {
		suffix := append([]byte(nil), it.Key()[skip:]...)
		if err := fn(suffix); err != nil {
			return err
		}
	}
	return it.Error()
}
