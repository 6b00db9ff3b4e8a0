package storage

import (
	"context"
	"sync"

	"github.com/annel0/fg-server/internal/protocol"
)

// MemoryPlayerRepo реализует PlayerRepo в памяти.
// Используется как fallback, когда внешняя БД не настроена,
// и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryPlayerRepo struct {
	mu   sync.RWMutex
	data map[protocol.PID][]byte
}

// NewMemoryPlayerRepo создает новый репозиторий записей в памяти.
func NewMemoryPlayerRepo() *MemoryPlayerRepo {
	return &MemoryPlayerRepo{
		data: make(map[protocol.PID][]byte),
	}
}

// Save сохраняет копию снимка в памяти.
func (r *MemoryPlayerRepo) Save(ctx context.Context, pid protocol.PID, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[pid] = buf
	return nil
}

// Load возвращает копию снимка.
func (r *MemoryPlayerRepo) Load(ctx context.Context, pid protocol.PID) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.data[pid]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Delete удаляет запись.
func (r *MemoryPlayerRepo) Delete(ctx context.Context, pid protocol.PID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[pid]; !ok {
		return ErrRecordNotFound
	}
	delete(r.data, pid)
	return nil
}

// Close ничего не делает
func (r *MemoryPlayerRepo) Close() error { return nil }

// Count возвращает количество сохранённых записей
func (r *MemoryPlayerRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
