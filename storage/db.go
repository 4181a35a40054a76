package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// vacuumDiscardRatio is the share of stale data a value log file needs
// before badger rewrites it
const vacuumDiscardRatio = 0.7

type Config struct {
	Path string
}

type Sequence interface {
	Next() (uint64, error)
	Release() error
}

type Storage interface {
	Setup() error
	Close() error

	GetSequence(prefix []byte, inflightItem uint64) (Sequence, error)

	Exist(key []byte) (bool, error)
	GetKey(key []byte) ([]byte, error)
	GetByPrefix(prefix []byte) ([]*KeyValueItem, error)
	GetKeyHasPrefix(prefix []byte) ([][]byte, error)
	FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error)

	// Counting only walks the LSM tree, values are never read
	CountKeysByPrefix(prefix []byte) (int64, error)
	CountKeysByPrefixes(prefixes [][]byte) (int64, error)

	BatchWrite(updates map[string][]byte) error
	Move(src, dest []byte) error
	// Replace deletes src and writes value under dest in one transaction
	Replace(src, dest, value []byte) error
	Set(key, value []byte) error
	Delete(key []byte) error

	// Vacuum rewrites value log files until none is worth collecting
	Vacuum() error

	// Backup streams every key version newer than since to w and returns
	// the version to pass as since for an incremental follow up
	Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error)
	Load(ctx context.Context, r io.Reader) error

	DbPath() string
}

type KeyValueItem struct {
	Key   []byte
	Value []byte
}

type BadgerStorage struct {
	config *Config
	db     *badger.DB
	seqs   []*badger.Sequence
}

func NewWithPath(path string) (Storage, error) {
	return New(&Config{Path: path})
}

// New opens badger at c.Path with synchronous writes
func New(c *Config) (Storage, error) {
	db, err := badger.Open(badger.DefaultOptions(c.Path).WithSyncWrites(true))
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{config: c, db: db}, nil
}

func (s *BadgerStorage) Setup() error {
	return nil
}

func (s *BadgerStorage) Close() error {
	for _, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			return err
		}
	}
	return s.db.Close()
}

// scan walks every key under prefix in order. Values are only loaded when
// withValues is set; fn gets copies it may keep.
func (s *BadgerStorage) scan(prefix []byte, withValues bool, fn func(k, v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var v []byte
			if withValues {
				var err error
				if v, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// BatchWrite commits updates, splitting them over several transactions
// when they do not fit in one. It is not atomic across the split.
func (s *BadgerStorage) BatchWrite(updates map[string][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for k, v := range updates {
		if err := wb.Set([]byte(k), v); err != nil {
			return fmt.Errorf("batch write %s: %w", k, err)
		}
	}
	return wb.Flush()
}

func (s *BadgerStorage) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStorage) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// GetByPrefix returns every key and value under prefix in key order
func (s *BadgerStorage) GetByPrefix(prefix []byte) ([]*KeyValueItem, error) {
	var result []*KeyValueItem
	err := s.scan(prefix, true, func(k, v []byte) error {
		result = append(result, &KeyValueItem{Key: k, Value: v})
		return nil
	})
	return result, err
}

// GetKeyHasPrefix returns the keys under prefix without reading values
func (s *BadgerStorage) GetKeyHasPrefix(prefix []byte) ([][]byte, error) {
	var result [][]byte
	err := s.scan(prefix, false, func(k, _ []byte) error {
		result = append(result, k)
		return nil
	})
	return result, err
}

func (s *BadgerStorage) CountKeysByPrefix(prefix []byte) (int64, error) {
	if len(prefix) == 0 {
		return 0, fmt.Errorf("cannot count prefix with length 0")
	}

	var total int64
	err := s.scan(prefix, false, func(_, _ []byte) error {
		total++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *BadgerStorage) CountKeysByPrefixes(prefixes [][]byte) (int64, error) {
	var total int64
	for _, prefix := range prefixes {
		n, err := s.CountKeysByPrefix(prefix)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *BadgerStorage) Exist(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	}
	return false, err
}

func (s *BadgerStorage) GetKey(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// GetSequence leases ids from a badger sequence. Leases are released on
// Close.
func (s *BadgerStorage) GetSequence(prefix []byte, inflightItem uint64) (Sequence, error) {
	seq, err := s.db.GetSequence(prefix, inflightItem)
	if err != nil {
		return nil, err
	}
	s.seqs = append(s.seqs, seq)
	return seq, nil
}

// FirstKVHasPrefix returns the smallest key under prefix and its value, or
// nil slices when there is none.
func (s *BadgerStorage) FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error) {
	var k, v []byte
	errFound := errors.New("found")
	err := s.scan(prefix, true, func(key, value []byte) error {
		k, v = key, value
		return errFound
	})
	if err != nil && err != errFound {
		return nil, nil, err
	}
	return k, v, nil
}

// Move renames src to dest, keeping its value
func (s *BadgerStorage) Move(src, dest []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(src)
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(src); err != nil {
			return err
		}
		return txn.Set(dest, value)
	})
}

func (s *BadgerStorage) Replace(src, dest, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(src); err != nil {
			return err
		}
		if err := txn.Delete(src); err != nil {
			return err
		}
		return txn.Set(dest, value)
	})
}

// Vacuum returns nil when there was nothing left to rewrite. badger only
// allows one GC at a time, a concurrent call is rejected and reported.
func (s *BadgerStorage) Vacuum() error {
	for {
		err := s.db.RunValueLogGC(vacuumDiscardRatio)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		return err
	}
}

func (s *BadgerStorage) Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error) {
	return s.db.Backup(w, since)
}

func (s *BadgerStorage) Load(ctx context.Context, r io.Reader) error {
	return s.db.Load(r, 16)
}

func (s *BadgerStorage) DbPath() string {
	return s.config.Path
}

// Destroy closes a and wipes its data directory
func Destroy(a Storage) error {
	a.Close()
	return os.RemoveAll(a.DbPath())
}

// IsNotFound reports whether err is badger's missing key error
func IsNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}
