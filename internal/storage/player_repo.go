package storage

import (
	"context"
	"errors"

	"github.com/annel0/fg-server/internal/protocol"
)

var (
	// ErrRecordLocked запись удерживается другим владельцем
	ErrRecordLocked = errors.New("запись игрока заблокирована")
	// ErrRecordNotFound записи игрока нет в хранилище
	ErrRecordNotFound = errors.New("запись игрока не найдена")
	// ErrStoreClosed хранилище уже закрыто
	ErrStoreClosed = errors.New("хранилище закрыто")
)

// PlayerRepo определяет интерфейс для хранения снимков записей игроков.
// Снимок это непрозрачный срез байт (zstd+msgpack), репозиторий его не разбирает.
type PlayerRepo interface {
	// Save сохраняет снимок записи игрока.
	// Параметры:
	//   ctx - контекст для отмены операции
	//   pid - постоянный идентификатор игрока
	//   data - сериализованная запись
	// Возвращает:
	//   error - ошибка при сохранении
	Save(ctx context.Context, pid protocol.PID, data []byte) error

	// Load загружает снимок записи игрока.
	// Возвращает:
	//   []byte - сериализованная запись
	//   bool - true если запись найдена, false если игрок новый
	//   error - ошибка при загрузке
	Load(ctx context.Context, pid protocol.PID) ([]byte, bool, error)

	// Delete удаляет запись игрока (для тестов или сброса).
	// Отсутствие записи даёт ErrRecordNotFound.
	Delete(ctx context.Context, pid protocol.PID) error

	// Close освобождает соединения
	Close() error
}
