package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/fg-server/internal/protocol"
)

const badgerKeyPrefix = "player:"

// BadgerPlayerRepo хранит снимки игроков во встроенной BadgerDB.
// Подходит для одиночного сервера без внешней БД.
type BadgerPlayerRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerPlayerRepo открывает базу в каталоге dataPath/players
func NewBadgerPlayerRepo(dataPath string) (*BadgerPlayerRepo, error) {
	dbPath := filepath.Join(dataPath, "players")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerPlayerRepo{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

func badgerKey(pid protocol.PID) []byte {
	key := make([]byte, len(badgerKeyPrefix)+4)
	copy(key, badgerKeyPrefix)
	binary.BigEndian.PutUint32(key[len(badgerKeyPrefix):], uint32(pid))
	return key
}

// Save записывает снимок в отдельной транзакции
func (r *BadgerPlayerRepo) Save(ctx context.Context, pid protocol.PID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return ErrStoreClosed
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(pid), data)
	})
}

// Load читает снимок. ErrKeyNotFound означает нового игрока.
func (r *BadgerPlayerRepo) Load(ctx context.Context, pid protocol.PID) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return nil, false, ErrStoreClosed
	}

	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(pid))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения записи игрока %d: %w", pid, err)
	}
	return data, true, nil
}

// Delete удаляет запись игрока
func (r *BadgerPlayerRepo) Delete(ctx context.Context, pid protocol.PID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return ErrStoreClosed
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		key := badgerKey(pid)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrRecordNotFound
	}
	return err
}

// Close закрывает базу
func (r *BadgerPlayerRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}
	r.isReady = false
	return r.db.Close()
}
