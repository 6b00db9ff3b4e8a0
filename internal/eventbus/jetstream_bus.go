package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/annel0/fg-server/internal/logging"
)

// SubjectPrefix префикс subject'ов событий: fg.<type>, например fg.player.joined
const SubjectPrefix = "fg"

// JetStreamConfig параметры подключения к NATS JetStream
type JetStreamConfig struct {
	URL       string        // nats://127.0.0.1:4222
	Stream    string        // по умолчанию FG_EVENTS
	Retention time.Duration // MaxAge стрима; 0 - без ограничения
	Name      string        // имя соединения, видно в мониторинге NATS
}

// JetStreamBus публикует конверты в стрим JetStream.
// Публикация асинхронная; неподтверждённые сервером сообщения считаются потерянными.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
	log    *logging.Logger

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewJetStreamBus подключается к NATS и создаёт или обновляет стрим
func NewJetStreamBus(cfg JetStreamConfig) (*JetStreamBus, error) {
	if cfg.Stream == "" {
		cfg.Stream = "FG_EVENTS"
	}
	if cfg.Name == "" {
		cfg.Name = "fg-server"
	}
	jb := &JetStreamBus{stream: cfg.Stream, log: logging.GetComponentLogger(logging.ComponentEventBus)}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				jb.log.Warn("соединение с NATS потеряно: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			jb.log.Info("🔌 переподключение к NATS: %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	jb.nc = nc

	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(1024),
		nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			jb.dropped.Add(1)
			jb.log.Warn("JetStream не подтвердил %s: %v", msg.Subject, err)
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	jb.js = js

	if err := jb.ensureStream(cfg.Retention); err != nil {
		nc.Close()
		return nil, err
	}
	return jb, nil
}

func (jb *JetStreamBus) ensureStream(retention time.Duration) error {
	sc := &nats.StreamConfig{
		Name:      jb.stream,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    retention,
		Storage:   nats.FileStorage,
		// дубликаты по MsgId отсекаются в этом окне
		Duplicates: 2 * time.Minute,
	}
	info, err := jb.js.StreamInfo(jb.stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := jb.js.AddStream(sc); err != nil {
			return fmt.Errorf("add stream %s: %w", jb.stream, err)
		}
		jb.log.Info("📼 создан стрим %s, хранение %s", jb.stream, retention)
	case err != nil:
		return fmt.Errorf("stream info %s: %w", jb.stream, err)
	case info.Config.MaxAge != retention:
		if _, err := jb.js.UpdateStream(sc); err != nil {
			return fmt.Errorf("update stream %s: %w", jb.stream, err)
		}
	}
	return nil
}

// Subject возвращает subject события данного типа
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}

// Publish сериализует конверт в msgpack и ставит его в очередь публикации
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := jb.js.PublishAsync(Subject(ev.EventType), data, nats.MsgId(ev.ID)); err != nil {
		jb.dropped.Add(1)
		return err
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт эфемерного потребителя, получающего только новые события.
// Для истории есть cmd/tools/event-cli.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := SubjectPrefix + ".>"
	if len(f.Types) == 1 {
		subj = Subject(f.Types[0])
	}

	sub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := msgpack.Unmarshal(msg.Data, &ev); err != nil {
			jb.log.Warn("битый конверт в %s: %v", msg.Subject, err)
			return
		}
		if matchFilter(&ev, f) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
	}, nats.DeliverNew(), nats.AckNone(), nats.BindStream(jb.stream))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}
	return jetSub{sub}, nil
}

type jetSub struct {
	s *nats.Subscription
}

func (j jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics реализует EventBus
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
		InFlight:  jb.js.PublishAsyncPending(),
	}
}

// Close ждёт подтверждений не дольше 5 секунд и закрывает соединение
func (jb *JetStreamBus) Close() error {
	select {
	case <-jb.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		jb.log.Warn("JetStream: %d событий без подтверждения при закрытии", jb.js.PublishAsyncPending())
	}
	return jb.nc.Drain()
}
