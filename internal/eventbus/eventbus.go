package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope контейнер события жизненного цикла, уходящего за пределы процесса.
type Envelope struct {
	ID        string            `msgpack:"id"`        // UUID события
	Timestamp time.Time         `msgpack:"ts"`        // время создания (UTC)
	Source    string            `msgpack:"source"`    // имя сервера
	EventType string            `msgpack:"type"`      // player.joined, player.left…
	Priority  int               `msgpack:"priority"`  // 0=Low … 9=Critical
	Payload   []byte            `msgpack:"payload"`   // msgpack полезной нагрузки
	Metadata  map[string]string `msgpack:"metadata,omitempty"`
}

// NewEnvelope упаковывает полезную нагрузку в новый конверт
func NewEnvelope(source, eventType string, priority int, payload interface{}) (*Envelope, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку конверта
func (ev *Envelope) Decode(v interface{}) error {
	return msgpack.Unmarshal(ev.Payload, v)
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто - все типы.
	Sources []string // Если пусто - все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus шина событий жизненного цикла.
// Publish не должен надолго блокировать цикл тиков.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

// CriticalPriority события с приоритетом не ниже этого не отбрасываются
// при переполнении буфера, Publish ждёт места
const CriticalPriority = 5

// memoryBus доставляет события подписчикам из одной горутины.
// Список подписчиков заменяется целиком при подписке и отписке.
type memoryBus struct {
	mu     sync.Mutex
	subs   atomic.Pointer[[]*memSub]
	buffer chan *Envelope

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryBus создаёт шину в памяти с буфером capacity.
// Обработчики вызываются по порядку в одной горутине доставки.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	mb := &memoryBus{
		buffer: make(chan *Envelope, capacity),
		done:   make(chan struct{}),
	}
	mb.subs.Store(&[]*memSub{})
	go mb.deliver()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	default:
	}
	if ev.Priority < CriticalPriority {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)
	sub := &memSub{bus: mb, filter: f, handler: h, ctx: cctx, cancel: cancel}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	old := *mb.subs.Load()
	next := make([]*memSub, len(old), len(old)+1)
	copy(next, old)
	next = append(next, sub)
	mb.subs.Store(&next)
	return sub, nil
}

func (mb *memoryBus) unsubscribe(target *memSub) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	old := *mb.subs.Load()
	next := make([]*memSub, 0, len(old))
	for _, s := range old {
		if s != target {
			next = append(next, s)
		}
	}
	mb.subs.Store(&next)
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.buffer),
	}
}

// Close прекращает приём и дожидается доставки оставшихся событий
func (mb *memoryBus) Close() error {
	mb.closeOnce.Do(func() { close(mb.buffer) })
	<-mb.done
	return nil
}

func (mb *memoryBus) deliver() {
	defer close(mb.done)
	for ev := range mb.buffer {
		for _, sub := range *mb.subs.Load() {
			if sub.ctx.Err() != nil || !matchFilter(ev, sub.filter) {
				continue
			}
			sub.handler(sub.ctx, ev)
			mb.consumed.Add(1)
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// matchFilter пустой список в фильтре пропускает всё
func matchFilter(ev *Envelope, f Filter) bool {
	if len(f.Types) > 0 && !contains(f.Types, ev.EventType) {
		return false
	}
	return len(f.Sources) == 0 || contains(f.Sources, ev.Source)
}

type memSub struct {
	bus     *memoryBus
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *memSub) Unsubscribe() {
	s.cancel()
	s.bus.unsubscribe(s)
}
