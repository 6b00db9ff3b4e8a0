// Package server цикл тиков: связывает транспорт, хранилище и менеджер сессий.
package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/fg-server/internal/api"
	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/metrics"
	"github.com/annel0/fg-server/internal/network"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/session"
)

// Transport источник клиентских событий и получатель серверных
type Transport interface {
	Pump(ch *eventbus.Channel) int
	Dispatch(events []eventbus.ServerEvent)
	Stats() network.Stats
}

// Store асинхронное хранилище с очередью завершений
type Store interface {
	session.Persistence
	Pump(ch *eventbus.Channel) int
	Pending() int
}

// Config параметры цикла
type Config struct {
	TickInterval     time.Duration
	ShutdownDeadline time.Duration // сколько ждать завершения сохранений
}

type command struct {
	run   func(m *session.Manager) error
	reply chan error
}

// Server владеет каналом тика и менеджером; все их вызовы идут из Run
type Server struct {
	ch        *eventbus.Channel
	manager   *session.Manager
	transport Transport
	store     Store
	cfg       Config

	game    *metrics.GameMetrics
	process *metrics.ProcessSampler

	commands chan command
	tick     uint64
	status   atomic.Pointer[api.Status]
	logger   *logging.Logger
}

// New собирает цикл. ch должен быть каналом, с которым создан manager.
func New(ch *eventbus.Channel, manager *session.Manager, transport Transport, store Store, cfg Config) *Server {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = 15 * time.Second
	}
	s := &Server{
		ch:        ch,
		manager:   manager,
		transport: transport,
		store:     store,
		cfg:       cfg,
		commands:  make(chan command, 16),
		logger:    logging.GetServerLogger(),
	}
	s.publish(false)
	return s
}

// SetMetrics подключает метрики; любой аргумент может быть nil
func (s *Server) SetMetrics(game *metrics.GameMetrics, process *metrics.ProcessSampler) {
	s.game = game
	s.process = process
}

// Run крутит тики до отмены ctx, затем останавливает менеджер и
// ждёт завершения сохранений не дольше ShutdownDeadline
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("цикл тиков запущен, интервал %s", s.cfg.TickInterval)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			s.Step(dt)
		}
	}
}

// Step выполняет один тик
func (s *Server) Step(dt time.Duration) {
	start := time.Now()

	s.transport.Pump(s.ch)
	s.store.Pump(s.ch)
	s.runCommands()

	game := s.ch.PendingGame()
	s.manager.Tick(dt)
	out := s.ch.DrainServer()
	s.transport.Dispatch(out)
	s.tick++

	if s.game != nil {
		s.game.ObserveTick(time.Since(start), s.cfg.TickInterval)
		s.game.ObserveEvents(game, len(out))
	}
	s.publish(s.manager.Stopped())
}

// shutdown сохраняет игроков и ждёт ответов хранилища
func (s *Server) shutdown() error {
	s.logger.Info("остановка: сохранение игроков")
	s.transport.Pump(s.ch)
	s.store.Pump(s.ch)
	s.manager.Shutdown()
	s.manager.Tick(0)
	s.transport.Dispatch(s.ch.DrainServer())
	s.rejectCommands()

	deadline := time.Now().Add(s.cfg.ShutdownDeadline)
	for s.store.Pending() > 0 {
		if time.Now().After(deadline) {
			s.publish(true)
			return fmt.Errorf("не дождались %d операций хранилища", s.store.Pending())
		}
		time.Sleep(s.cfg.TickInterval)
		s.store.Pump(s.ch)
		s.manager.Tick(0)
		s.transport.Dispatch(s.ch.DrainServer())
	}
	s.publish(true)
	s.logger.Info("остановка завершена")
	return nil
}

func (s *Server) runCommands() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- cmd.run(s.manager)
		default:
			return
		}
	}
}

func (s *Server) rejectCommands() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- fmt.Errorf("сервер останавливается")
		default:
			return
		}
	}
}

// Kick отключает игрока. Выполняется в следующем тике.
func (s *Server) Kick(ctx context.Context, pid protocol.PID) error {
	cmd := command{
		run:   func(m *session.Manager) error { return m.Kick(pid) },
		reply: make(chan error, 1),
	}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) publish(stopping bool) {
	st := &api.Status{
		Tick:     s.tick,
		TickRate: int(time.Second / s.cfg.TickInterval),
		Stopping: stopping,
		Session:  s.manager.Stats(),
		Network:  s.transport.Stats(),
		Pending:  s.store.Pending(),
	}
	if s.process != nil {
		st.Process = s.process.Last()
	}
	if s.game != nil {
		ss := st.Session
		s.game.SetPopulation(ss.Players, ss.Cached, ss.Loading, ss.Instances, ss.Invites)
	}
	s.status.Store(st)
}

// Status реализует api.StatusSource
func (s *Server) Status() api.Status {
	return *s.status.Load()
}
