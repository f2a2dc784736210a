package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"

	"ispctl/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

const maxConflictRetries = 5

// Store persists routers, clients, payments and settings in badger.
// Values are JSON; keys are "<kind>:<id>".
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store under dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 24)
	return open(opts)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func routerKey(id int64) []byte {
	return []byte("router:" + strconv.FormatInt(id, 10))
}

func clientKey(id int64) []byte {
	return []byte("client:" + strconv.FormatInt(id, 10))
}

func paymentPrefix(clientID int64) []byte {
	return []byte("payment:" + strconv.FormatInt(clientID, 10) + ":")
}

func paymentKey(clientID int64, month model.YearMonth) []byte {
	return append(paymentPrefix(clientID), month.String()...)
}

func settingKey(name string) []byte {
	return []byte("setting:" + name)
}

func (s *Store) PutRouter(ctx context.Context, r model.Router) error {
	return s.put(ctx, routerKey(r.ID), r)
}

func (s *Store) GetRouter(ctx context.Context, id int64) (model.Router, error) {
	var out model.Router
	err := s.get(ctx, routerKey(id), &out)
	return out, err
}

func (s *Store) DeleteRouter(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(routerKey(id))
	})
}

// ListRouters returns every stored router ordered by id.
func (s *Store) ListRouters(ctx context.Context) ([]model.Router, error) {
	var out []model.Router
	err := scan(ctx, s.db, []byte("router:"), func(v []byte) error {
		var r model.Router
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutClient(ctx context.Context, c model.Client) error {
	return s.put(ctx, clientKey(c.ID), c)
}

func (s *Store) GetClient(ctx context.Context, id int64) (model.Client, error) {
	var out model.Client
	err := s.get(ctx, clientKey(id), &out)
	return out, err
}

// ListClients returns every stored client ordered by id.
func (s *Store) ListClients(ctx context.Context) ([]model.Client, error) {
	var out []model.Client
	err := scan(ctx, s.db, []byte("client:"), func(v []byte) error {
		var c model.Client
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetClientStatus flips a client's status flag. Returns ErrNotFound for
// unknown clients.
func (s *Store) SetClientStatus(ctx context.Context, id int64, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		var c model.Client
		if err := getJSON(txn, clientKey(id), &c); err != nil {
			return err
		}
		if c.Status == status {
			return nil
		}
		c.Status = status
		return setJSON(txn, clientKey(id), c)
	})
}

// InsertPayment appends a payment. The client must exist and no payment may
// already be recorded for the same month; both checks run in the same
// transaction as the write.
func (s *Store) InsertPayment(ctx context.Context, p model.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(clientKey(p.ClientID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("client %d: %w", p.ClientID, ErrNotFound)
			}
			return err
		}
		key := paymentKey(p.ClientID, p.Month)
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("payment %d/%s: %w", p.ClientID, p.Month, ErrExists)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return setJSON(txn, key, p)
	})
}

// GetPayment returns the payment for one client and month.
func (s *Store) GetPayment(ctx context.Context, clientID int64, month model.YearMonth) (model.Payment, error) {
	var out model.Payment
	err := s.get(ctx, paymentKey(clientID, month), &out)
	return out, err
}

// ListPayments returns a client's payments in chronological month order.
func (s *Store) ListPayments(ctx context.Context, clientID int64) ([]model.Payment, error) {
	var out []model.Payment
	err := scan(ctx, s.db, paymentPrefix(clientID), func(v []byte) error {
		var p model.Payment
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// Settings returns every stored setting as raw strings.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	prefix := []byte("setting:")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			if err := item.Value(func(v []byte) error {
				out[name] = string(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutSettings writes all values in one transaction.
func (s *Store) PutSettings(ctx context.Context, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		for k, v := range values {
			if err := txn.Set(settingKey(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) put(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key, v)
	})
}

func (s *Store) get(ctx context.Context, key []byte, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key, out)
	})
}

// update retries transactions that lost an optimistic conflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func scan(ctx context.Context, db *badger.DB, prefix []byte, fn func(v []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
