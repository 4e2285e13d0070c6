package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const badgerPrefix = "wallet:"

// BadgerStore keeps the wallet in an embedded badger database, for machines
// without a platform keyring.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates a wallet database in dir. An empty dir opens
// an in-memory database.
func OpenBadgerStore(dir string, log *logrus.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	if log != nil {
		opts = opts.WithLogger(log)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open wallet database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(slug string) (string, bool, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + slug))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = string(v)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("unable to read %s: %w", slug, err)
	}
	return value, true, nil
}

func (s *BadgerStore) Set(slug, value string) error {
	if !ValidSlug(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+slug), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("unable to write %s: %w", slug, err)
	}
	return nil
}

func (s *BadgerStore) Delete(slug string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPrefix + slug))
	})
	if err != nil {
		return fmt.Errorf("unable to delete %s: %w", slug, err)
	}
	return nil
}

func (s *BadgerStore) All() (map[string]string, error) {
	data := make(map[string]string)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			slug := strings.TrimPrefix(string(item.Key()), badgerPrefix)
			err := item.Value(func(v []byte) error {
				data[slug] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read wallet: %w", err)
	}

	return data, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
