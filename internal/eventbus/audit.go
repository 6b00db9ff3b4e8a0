package eventbus

import (
	"context"
	"time"

	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/protocol"
)

// Типы событий жизненного цикла
const (
	TypePlayerJoined    = "player.joined"
	TypePlayerLeft      = "player.left"
	TypePlayerSaved     = "player.saved"
	TypePlayerRejected  = "player.rejected"
	TypeInstanceStarted = "instance.started"
	TypeServerStopped   = "server.stopped"
)

// PlayerLifecycle полезная нагрузка событий player.*
type PlayerLifecycle struct {
	PID    protocol.PID   `msgpack:"pid"`
	NetID  protocol.NetID `msgpack:"net_id"`
	Map    string         `msgpack:"map,omitempty"`
	Reason string         `msgpack:"reason,omitempty"`
}

// InstanceLifecycle полезная нагрузка событий instance.*
type InstanceLifecycle struct {
	Map string `msgpack:"map"`
}

const publishWait = 50 * time.Millisecond

// Auditor публикует события жизненного цикла из цикла тиков.
// Нулевой или nil Auditor ничего не делает.
type Auditor struct {
	bus    EventBus
	source string
	log    *logging.Logger
}

// NewAuditor создаёт публикатор; bus может быть nil
func NewAuditor(bus EventBus, source string) *Auditor {
	return &Auditor{bus: bus, source: source, log: logging.GetComponentLogger(logging.ComponentEventBus)}
}

// Emit публикует событие. Ошибки публикации только логируются.
func (a *Auditor) Emit(eventType string, priority int, payload interface{}) {
	if a == nil || a.bus == nil {
		return
	}
	ev, err := NewEnvelope(a.source, eventType, priority, payload)
	if err != nil {
		a.log.Error("не удалось собрать событие %s: %v", eventType, err)
		return
	}
	// критичные события могут ждать места в буфере, но не дольше publishWait
	ctx, cancel := context.WithTimeout(context.Background(), publishWait)
	defer cancel()
	if err := a.bus.Publish(ctx, ev); err != nil {
		a.log.Warn("не удалось опубликовать событие %s: %v", eventType, err)
	}
}

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	log := logging.GetComponentLogger(logging.ComponentEventBus)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		log.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	log.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
