// Package network websocket-транспорт: принимает соединения, переводит
// кадры клиентов в игровые события и доставляет серверные события.
package network

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// TokenVerifier проверяет токен входа и возвращает pid
type TokenVerifier interface {
	Verify(token string) (protocol.PID, error)
}

// Stats счётчики транспорта
type Stats struct {
	Connections int   `json:"connections"`
	Accepted    int64 `json:"accepted"`
	FramesIn    int64 `json:"frames_in"`
	FramesOut   int64 `json:"frames_out"`
	Dropped     int64 `json:"dropped"`
	BadFrames   int64 `json:"bad_frames"`
}

// Hub реестр websocket-соединений по NetID.
//
// Горутины чтения складывают события во входящий буфер; Pump переносит
// его в канал тика. Dispatch раскладывает серверные события по очередям
// отправки соединений. Pump и Dispatch вызываются из цикла тиков.
type Hub struct {
	verifier TokenVerifier
	upgrader websocket.Upgrader
	logger   *logging.Logger

	nextID atomic.Int32

	mu     sync.Mutex
	conns  map[protocol.NetID]*conn
	inbox  []eventbus.GameEvent
	closed bool

	accepted  atomic.Int64
	framesIn  atomic.Int64
	framesOut atomic.Int64
	dropped   atomic.Int64
	badFrames atomic.Int64
}

// NewHub создаёт пустой реестр
func NewHub(verifier TokenVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.GetNetworkLogger(),
		conns:  make(map[protocol.NetID]*conn),
	}
}

// ServeHTTP принимает websocket-соединение
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	c := &conn{
		hub:    h,
		ws:     ws,
		id:     protocol.NetID(h.nextID.Add(1)),
		send:   make(chan []byte, sendBufSize),
		remote: r.RemoteAddr,
	}
	h.accepted.Add(1)

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("соединение %d от %s", c.id, c.remote)
	go c.writePump()
	c.readPump()
}

// Pump переносит накопленные входящие события в ch и возвращает их число
func (h *Hub) Pump(ch *eventbus.Channel) int {
	h.mu.Lock()
	in := h.inbox
	h.inbox = nil
	h.mu.Unlock()

	for _, ev := range in {
		ch.PushGame(ev)
	}
	return len(in)
}

// Dispatch доставляет серверные события адресатам.
// События для неизвестных соединений отбрасываются.
func (h *Hub) Dispatch(events []eventbus.ServerEvent) {
	for _, ev := range events {
		h.mu.Lock()
		c, ok := h.conns[ev.Target()]
		h.mu.Unlock()
		if !ok {
			continue
		}

		data, err := encodeServerEvent(ev)
		if err != nil {
			h.logger.Error("кодирование %T для %d: %v", ev, c.id, err)
			continue
		}
		if _, kick := ev.(eventbus.PlayerForceDisconnect); kick {
			h.logger.Debug("принудительное отключение %d", c.id)
			c.enqueue(data)
			c.close(true)
			continue
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
			h.logger.Warn("очередь отправки %d переполнена, соединение закрыто", c.id)
			c.close(false)
			continue
		}
		h.framesOut.Add(1)
	}
}

// Len число открытых соединений
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Stats снимок счётчиков
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.Len(),
		Accepted:    h.accepted.Load(),
		FramesIn:    h.framesIn.Load(),
		FramesOut:   h.framesOut.Load(),
		Dropped:     h.dropped.Load(),
		BadFrames:   h.badFrames.Load(),
	}
}

// Close перестаёт принимать соединения и закрывает открытые
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(true)
	}
}

func (h *Hub) push(ev eventbus.GameEvent) {
	h.mu.Lock()
	h.inbox = append(h.inbox, ev)
	h.mu.Unlock()
}

// remove убирает соединение из реестра. Сообщает игре об отключении,
// если клиент успел войти и отключение не инициировано сервером.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.id] != c {
		return
	}
	delete(h.conns, c.id)
	if c.authed.Load() && !c.kicked.Load() {
		h.inbox = append(h.inbox, eventbus.PlayerDisconnected{NetID: c.id})
	}
}
