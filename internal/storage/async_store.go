package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/protocol"
)

// AsyncConfig параметры асинхронного хранилища
type AsyncConfig struct {
	Workers   int           // число шардов; операции одного pid идут по порядку
	QueueSize int           // глубина очереди шарда
	OpTimeout time.Duration // таймаут одной операции с репозиторием
	Owner     string        // идентификатор владельца блокировок; пусто - uuid
}

// DefaultAsyncConfig возвращает конфигурацию по умолчанию
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Workers:   4,
		QueueSize: 256,
		OpTimeout: 10 * time.Second,
	}
}

type opKind int

const (
	opRetrieve opKind = iota
	opSave
)

type job struct {
	kind      opKind
	pid       protocol.PID
	exclusive bool
	data      []byte
	unlock    bool
}

// AsyncStore выполняет операции PlayerRepo в фоновых горутинах и
// возвращает результаты событиями RecordRetrieved и RecordSaved.
// Retrieve и Save не блокируют вызывающего, пока очередь шарда не заполнена.
// Pump переносит готовые результаты в игровую очередь и должен
// вызываться из игрового цикла.
type AsyncStore struct {
	repo   PlayerRepo
	locker Locker
	owner  string
	cfg    AsyncConfig

	shards []chan job

	doneMu sync.Mutex
	done   []eventbus.GameEvent

	pending atomic.Int64
	closed  atomic.Bool
	wg      sync.WaitGroup

	tracer   trace.Tracer
	logger   *logging.Logger
	observer func(op string, err error)
}

// NewAsyncStore запускает воркеры. nil locker означает MemoryLocker.
func NewAsyncStore(repo PlayerRepo, locker Locker, cfg AsyncConfig) *AsyncStore {
	def := DefaultAsyncConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}

	s := &AsyncStore{
		repo:   repo,
		locker: locker,
		owner:  cfg.Owner,
		cfg:    cfg,
		shards: make([]chan job, cfg.Workers),
		tracer: otel.Tracer("fg-server/storage"),
		logger: logging.GetStorageLogger(),
	}
	for i := range s.shards {
		s.shards[i] = make(chan job, cfg.QueueSize)
		s.wg.Add(1)
		go s.worker(s.shards[i])
	}
	return s
}

// SetObserver задаёт обработчик завершения операций (метрики).
// Вызывается до первой операции; обработчик вызывается из воркеров.
func (s *AsyncStore) SetObserver(fn func(op string, err error)) {
	s.observer = fn
}

// Owner возвращает идентификатор владельца блокировок этого сервера
func (s *AsyncStore) Owner() string { return s.owner }

// Pending возвращает число операций, результат которых ещё не забран Pump
func (s *AsyncStore) Pending() int { return int(s.pending.Load()) }

// Retrieve реализует session.Persistence
func (s *AsyncStore) Retrieve(pid protocol.PID, exclusive bool) {
	s.enqueue(job{kind: opRetrieve, pid: pid, exclusive: exclusive})
}

// Save реализует session.Persistence. data не должен меняться после вызова.
func (s *AsyncStore) Save(pid protocol.PID, data []byte, unlock bool) {
	s.enqueue(job{kind: opSave, pid: pid, data: data, unlock: unlock})
}

func (s *AsyncStore) enqueue(j job) {
	s.pending.Add(1)
	if s.closed.Load() {
		s.complete(s.failed(j, ErrStoreClosed))
		return
	}
	idx := int(uint32(j.pid) % uint32(len(s.shards)))
	s.shards[idx] <- j
}

func (s *AsyncStore) failed(j job, err error) eventbus.GameEvent {
	if j.kind == opRetrieve {
		return eventbus.RecordRetrieved{PID: j.pid, Err: err}
	}
	return eventbus.RecordSaved{PID: j.pid, Unlocked: false, Err: err}
}

func (s *AsyncStore) complete(ev eventbus.GameEvent) {
	s.doneMu.Lock()
	s.done = append(s.done, ev)
	s.doneMu.Unlock()
}

// Pump переносит готовые результаты в игровую очередь ch.
// Возвращает число перенесённых событий.
func (s *AsyncStore) Pump(ch *eventbus.Channel) int {
	s.doneMu.Lock()
	ready := s.done
	s.done = nil
	s.doneMu.Unlock()

	for _, ev := range ready {
		ch.PushGame(ev)
	}
	s.pending.Add(-int64(len(ready)))
	return len(ready)
}

// Close дожидается завершения поставленных операций и закрывает репозиторий.
// Результаты остаются доступны через Pump. Вызывается из той же
// горутины, что и Retrieve и Save.
func (s *AsyncStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	for _, sh := range s.shards {
		close(sh)
	}
	s.wg.Wait()
	return s.repo.Close()
}

func (s *AsyncStore) worker(jobs <-chan job) {
	defer s.wg.Done()
	for j := range jobs {
		switch j.kind {
		case opRetrieve:
			ev := s.retrieve(j)
			s.observe("retrieve", ev.Err)
			s.complete(ev)
		case opSave:
			ev := s.save(j)
			s.observe("save", ev.Err)
			s.complete(ev)
		}
	}
}

func (s *AsyncStore) observe(op string, err error) {
	if s.observer != nil {
		s.observer(op, err)
	}
}

func (s *AsyncStore) retrieve(j job) eventbus.RecordRetrieved {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "storage.Retrieve", trace.WithAttributes(
		attribute.Int("pid", int(j.pid)),
		attribute.Bool("exclusive", j.exclusive),
	))
	defer span.End()

	if j.exclusive {
		if err := s.locker.Lock(ctx, j.pid, s.owner); err != nil {
			s.fail(span, err)
			s.logger.Warn("не удалось заблокировать запись %d: %v", j.pid, err)
			return eventbus.RecordRetrieved{PID: j.pid, Err: err}
		}
	}

	data, found, err := s.repo.Load(ctx, j.pid)
	if err != nil {
		s.fail(span, err)
		s.logger.Error("ошибка загрузки записи %d: %v", j.pid, err)
		if j.exclusive {
			_ = s.locker.Unlock(ctx, j.pid, s.owner)
		}
		return eventbus.RecordRetrieved{PID: j.pid, Err: err}
	}
	span.SetAttributes(attribute.Bool("found", found), attribute.Int("bytes", len(data)))
	return eventbus.RecordRetrieved{PID: j.pid, Data: data, Found: found}
}

func (s *AsyncStore) save(j job) eventbus.RecordSaved {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "storage.Save", trace.WithAttributes(
		attribute.Int("pid", int(j.pid)),
		attribute.Bool("unlock", j.unlock),
		attribute.Int("bytes", len(j.data)),
	))
	defer span.End()

	// Продление блокировки. Чужая блокировка означает, что запись уже
	// забрал другой сервер, и наш снимок устарел.
	if err := s.locker.Lock(ctx, j.pid, s.owner); err != nil {
		s.fail(span, err)
		s.logger.Warn("сохранение записи %d отклонено: %v", j.pid, err)
		return eventbus.RecordSaved{PID: j.pid, Err: err}
	}

	if err := s.repo.Save(ctx, j.pid, j.data); err != nil {
		s.fail(span, err)
		s.logger.Error("ошибка сохранения записи %d: %v", j.pid, err)
		return eventbus.RecordSaved{PID: j.pid, Err: err}
	}

	if !j.unlock {
		return eventbus.RecordSaved{PID: j.pid}
	}
	if err := s.locker.Unlock(ctx, j.pid, s.owner); err != nil {
		s.fail(span, err)
		s.logger.Warn("не удалось снять блокировку записи %d: %v", j.pid, err)
		return eventbus.RecordSaved{PID: j.pid, Err: err}
	}
	return eventbus.RecordSaved{PID: j.pid, Unlocked: true}
}

func (s *AsyncStore) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
