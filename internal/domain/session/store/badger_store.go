// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// BadgerStore is an embedded key-value SessionStore.
//   - sessions: key = "sess:<id>" (JSON)
//   - open index: key = "open:<owner>" (value = session id)
//
// Badger's optimistic transactions abort concurrent writers with
// ErrConflict, which is surfaced as a Conflict error.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the store at path. An empty path keeps data in memory.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func sessKey(id string) []byte    { return []byte("sess:" + id) }
func openKey(owner string) []byte { return []byte("open:" + owner) }

func (s *BadgerStore) CreateSession(ctx context.Context, rec *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return model.Storage("create", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessKey(rec.ID)); err == nil {
			return model.Conflict("create", "session %q already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if rec.State != model.StateStopped {
			if _, err := txn.Get(openKey(rec.OwnerID)); err == nil {
				return model.Conflict("create", "owner %q already has an open session", rec.OwnerID)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(openKey(rec.OwnerID), []byte(rec.ID)); err != nil {
				return err
			}
		}
		return txn.Set(sessKey(rec.ID), buf)
	})
	return mapBadgerErr("create", err)
}

func (s *BadgerStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getSession(txn, id)
		out = rec
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Storage("get", err)
	}
	return out, nil
}

func (s *BadgerStore) GetActive(ctx context.Context, ownerID string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(openKey(ownerID))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out, err = getSession(txn, string(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Storage("get_active", err)
	}
	return out, nil
}

func (s *BadgerStore) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out   *model.Session
		fnErr error
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getSession(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return model.NotFound("update", "session %q", id)
		}
		if err != nil {
			return err
		}
		if fnErr = fn(rec); fnErr != nil {
			return fnErr
		}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(sessKey(id), buf); err != nil {
			return err
		}
		if rec.State == model.StateStopped {
			if err := txn.Delete(openKey(rec.OwnerID)); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, mapBadgerErr("update", err)
	}
	return out, nil
}

func (s *BadgerStore) ScanSessions(ctx context.Context, fn func(*model.Session) error) error {
	var recs []*model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("sess:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec model.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return model.Storage("scan", err)
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func getSession(txn *badger.Txn, id string) (*model.Session, error) {
	item, err := txn.Get(sessKey(id))
	if err != nil {
		return nil, err
	}
	var rec model.Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func mapBadgerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *model.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, badger.ErrConflict) {
		return model.Conflict(op, "concurrent update")
	}
	return model.Storage(op, err)
}
