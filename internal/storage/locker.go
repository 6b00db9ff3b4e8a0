package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/fg-server/internal/protocol"
)

// Locker выдаёт эксклюзивное владение записью игрока одному серверу.
type Locker interface {
	// Lock захватывает или продлевает блокировку. Если запись держит
	// другой владелец, возвращает ErrRecordLocked.
	Lock(ctx context.Context, pid protocol.PID, owner string) error
	// Unlock снимает блокировку, только если она принадлежит owner
	Unlock(ctx context.Context, pid protocol.PID, owner string) error
}

// MemoryLocker блокировки в памяти процесса
type MemoryLocker struct {
	mu     sync.Mutex
	owners map[protocol.PID]string
}

// NewMemoryLocker создает пустой локер
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{owners: make(map[protocol.PID]string)}
}

// Lock реализует Locker
func (l *MemoryLocker) Lock(_ context.Context, pid protocol.PID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.owners[pid]; ok && cur != owner {
		return ErrRecordLocked
	}
	l.owners[pid] = owner
	return nil
}

// Unlock реализует Locker
func (l *MemoryLocker) Unlock(_ context.Context, pid protocol.PID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[pid] == owner {
		delete(l.owners, pid)
	}
	return nil
}

// Owner возвращает текущего владельца записи
func (l *MemoryLocker) Owner(pid protocol.PID) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[pid]
	return o, ok
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни блокировки
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "fg:lock:",
		TTL:       5 * time.Minute,
	}
}

// acquireScript SET NX либо продление, если ключ уже наш
var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker распределённые блокировки записей на Redis.
// Блокировка живёт TTL и продлевается каждым сохранением.
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisLocker подключается к Redis и проверяет соединение
func NewRedisLocker(config *RedisConfig) (*RedisLocker, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultRedisConfig().TTL
	}
	return &RedisLocker{client: client, keyPrefix: config.KeyPrefix, ttl: ttl}, nil
}

func (r *RedisLocker) key(pid protocol.PID) string {
	return fmt.Sprintf("%s%d", r.keyPrefix, pid)
}

// Lock реализует Locker
func (r *RedisLocker) Lock(ctx context.Context, pid protocol.PID, owner string) error {
	ok, err := acquireScript.Run(ctx, r.client, []string{r.key(pid)}, owner, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to lock record %d: %w", pid, err)
	}
	if ok == 0 {
		return ErrRecordLocked
	}
	return nil
}

// Unlock реализует Locker
func (r *RedisLocker) Unlock(ctx context.Context, pid protocol.PID, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(pid)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to unlock record %d: %w", pid, err)
	}
	return nil
}

// Close закрывает клиента
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
