// Package session ведёт жизненный цикл игроков: загрузку и сохранение
// записей, привязку соединений к инстансам и переходы между картами.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/instance"
	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
	"github.com/annel0/fg-server/internal/world"
)

// Значения по умолчанию
const (
	DefaultDataTimeout   = 60 * time.Second
	DefaultSaveInterval  = 60 * time.Second
	DefaultInviteTimeout = 30 * time.Second
)

// NotOnlineText системное сообщение для личного сообщения игроку не в сети
const NotOnlineText = "player is not online"

// Config таймауты и параметры инстансов
type Config struct {
	DataTimeout   time.Duration
	SaveInterval  time.Duration
	InviteTimeout time.Duration
	DefaultMap    string
	Instance      instance.Config
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		DataTimeout:   DefaultDataTimeout,
		SaveInterval:  DefaultSaveInterval,
		InviteTimeout: DefaultInviteTimeout,
		DefaultMap:    player.DefaultLocation,
		Instance:      instance.DefaultConfig(),
	}
}

// Manager единственный владелец таблиц игроков и инстансов.
// Вызывается только из горутины тикового цикла.
type Manager struct {
	ch      *eventbus.Channel
	store   Persistence
	maps    world.MapLoader
	scripts instance.Scripts
	arena   *player.Arena
	cfg     Config

	instances map[string]*instance.Instance
	entries   map[protocol.PID]*entry
	loading   map[protocol.PID]protocol.NetID
	sessions  map[protocol.NetID]protocol.PID
	invites   map[inviteKey]time.Duration

	auditor *eventbus.Auditor
	stopped bool
	logger  *logging.Logger
}

// NewManager создаёт менеджер. Нулевые поля cfg заменяются значениями по умолчанию.
func NewManager(ch *eventbus.Channel, store Persistence, maps world.MapLoader, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = def.DataTimeout
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = def.SaveInterval
	}
	if cfg.InviteTimeout <= 0 {
		cfg.InviteTimeout = def.InviteTimeout
	}
	if cfg.DefaultMap == "" {
		cfg.DefaultMap = def.DefaultMap
	}
	return &Manager{
		ch:        ch,
		store:     store,
		maps:      maps,
		scripts:   instance.DefaultScripts(),
		arena:     player.NewArena(),
		cfg:       cfg,
		instances: make(map[string]*instance.Instance),
		entries:   make(map[protocol.PID]*entry),
		loading:   make(map[protocol.PID]protocol.NetID),
		sessions:  make(map[protocol.NetID]protocol.PID),
		invites:   make(map[inviteKey]time.Duration),
		logger:    logging.GetSessionLogger(),
	}
}

// SetAuditor подключает публикацию событий жизненного цикла
func (m *Manager) SetAuditor(a *eventbus.Auditor) { m.auditor = a }

// SetScripts заменяет реестр скриптов для новых инстансов
func (m *Manager) SetScripts(s instance.Scripts) { m.scripts = s }

// Stopped сообщает, завершил ли менеджер работу
func (m *Manager) Stopped() bool { return m.stopped }

// State возвращает состояние записи игрока
func (m *Manager) State(pid protocol.PID) State {
	if _, ok := m.loading[pid]; ok {
		return Loading
	}
	if e, ok := m.entries[pid]; ok {
		return e.state
	}
	return Offline
}

// Tick обрабатывает накопленные игровые события, старит записи
// и приглашения, затем продвигает все инстансы
func (m *Manager) Tick(dt time.Duration) {
	for _, ev := range m.ch.DrainGame() {
		m.handle(ev)
	}
	if m.stopped {
		return
	}

	m.ageEntries(dt)
	m.ageInvites(dt)

	for _, name := range m.instanceNames() {
		inst := m.instances[name]
		inst.Tick()
		for _, netID := range inst.TakeBroken() {
			m.teardown(netID)
		}
	}
}

func (m *Manager) handle(ev eventbus.GameEvent) {
	if m.stopped {
		// после остановки обрабатываются только завершения хранилища
		switch e := ev.(type) {
		case eventbus.RecordRetrieved:
			m.onRetrieved(e)
		case eventbus.RecordSaved:
			m.onSaved(e)
		}
		return
	}

	switch e := ev.(type) {
	case eventbus.PlayerJoined:
		m.join(e.NetID, e.PID)
	case eventbus.PlayerDisconnected:
		m.disconnect(e.NetID)
	case eventbus.PlayerMove:
		if ent := m.activeByNet(e.NetID); ent != nil {
			ent.inst.QueueMove(e.NetID, e.X, e.Y, e.Speed)
		}
	case eventbus.PlayerJoinInstance:
		m.transfer(e.NetID, e.Map, vec.Vec2{X: e.X, Y: e.Y})
	case eventbus.PlayerChat:
		if ent := m.activeByNet(e.NetID); ent != nil {
			ent.inst.BroadcastChat(e.NetID, e.Text, e.TargetPID)
		}
	case eventbus.PlayerDM:
		m.routeDM(e)
	case eventbus.PlayerAction:
		m.action(e.NetID, e.Action)
	case eventbus.PlayerDataRequest:
		m.playerData(e.NetID, e.PID)
	case eventbus.EntityDataRequest:
		if ent := m.activeByNet(e.NetID); ent != nil {
			ent.inst.EntityData(e.NetID, e.X, e.Y, e.EntityID)
		}
	case eventbus.RecordRetrieved:
		m.onRetrieved(e)
	case eventbus.RecordSaved:
		m.onSaved(e)
	case eventbus.ShutdownRequested:
		m.Shutdown()
	default:
		m.logger.Warn("неизвестное игровое событие %T", ev)
	}
}

func (m *Manager) action(netID protocol.NetID, a protocol.Action) {
	switch act := a.(type) {
	case protocol.Interaction:
		if ent := m.activeByNet(netID); ent != nil {
			ent.inst.HandleInteraction(netID, act.X, act.Y)
		}
	case protocol.FriendInvite:
		m.inviteFriend(netID, act.TargetPID)
	case protocol.FriendAccept:
		m.acceptFriend(netID, act.InviterPID)
	default:
		m.logger.Warn("неизвестное действие %T от соединения %d", a, netID)
	}
}

// activeByNet возвращает активную запись соединения
func (m *Manager) activeByNet(netID protocol.NetID) *entry {
	pid, ok := m.sessions[netID]
	if !ok {
		return nil
	}
	e, ok := m.entries[pid]
	if !ok || e.state != Active || e.netID != netID {
		return nil
	}
	return e
}

// livePlayer возвращает живое состояние активной записи
func (m *Manager) livePlayer(e *entry) (*player.Player, bool) {
	if e == nil || e.state != Active {
		return nil, false
	}
	return m.arena.Get(e.handle)
}

// record возвращает данные игрока в любом состоянии, кроме загрузки
func (m *Manager) record(pid protocol.PID) (*player.Record, bool) {
	e, ok := m.entries[pid]
	if !ok {
		return nil, false
	}
	if e.state == Cached {
		return e.record, true
	}
	p, ok := m.livePlayer(e)
	if !ok {
		return nil, false
	}
	return p.Data, true
}

func (m *Manager) reject(netID protocol.NetID, pid protocol.PID, reason string) {
	m.ch.PushServer(eventbus.PlayerForceDisconnect{NetID: netID})
	m.auditor.Emit(eventbus.TypePlayerRejected, 3, eventbus.PlayerLifecycle{PID: pid, NetID: netID, Reason: reason})
}

func (m *Manager) join(netID protocol.NetID, pid protocol.PID) {
	if bound, ok := m.sessions[netID]; ok {
		m.logger.Warn("соединение %d уже привязано к игроку %d", netID, bound)
		return
	}
	if e, ok := m.entries[pid]; ok && e.state == Active {
		m.logger.Warn("повторный вход игрока %d с соединения %d, активно соединение %d", pid, netID, e.netID)
		m.reject(netID, pid, "duplicate")
		return
	}
	if waiting, ok := m.loading[pid]; ok {
		m.logger.Warn("повторный вход игрока %d с соединения %d, загрузка идёт для %d", pid, netID, waiting)
		m.reject(netID, pid, "duplicate")
		return
	}

	m.loading[pid] = netID
	m.store.Retrieve(pid, true)
	m.logger.Debug("загрузка игрока %d для соединения %d", pid, netID)
}

func (m *Manager) onRetrieved(ev eventbus.RecordRetrieved) {
	netID, waiting := m.loading[ev.PID]
	if !waiting {
		m.releaseStale(ev)
		return
	}
	delete(m.loading, ev.PID)

	if ev.Err != nil {
		m.logger.Error("не удалось загрузить игрока %d: %v", ev.PID, ev.Err)
		m.reject(netID, ev.PID, "retrieve failed")
		return
	}

	var rec *player.Record
	switch e, cached := m.entries[ev.PID]; {
	case cached && e.state == Cached:
		// кеш не старее хранилища: все изменения уже отправлены в Save
		rec = e.record
	case !ev.Found:
		rec = player.NewRecord(fmt.Sprintf("player%d", ev.PID), ev.PID)
		m.logger.Info("новый игрок %d", ev.PID)
	default:
		decoded, err := player.DecodeRecord(ev.Data, ev.PID)
		if err != nil {
			m.logger.Error("повреждённая запись игрока %d: %v", ev.PID, err)
			m.reject(netID, ev.PID, "corrupt record")
			return
		}
		rec = decoded
	}

	m.activate(netID, rec)
}

// releaseStale снимает блокировку, захваченную загрузкой,
// результат которой больше никому не нужен
func (m *Manager) releaseStale(ev eventbus.RecordRetrieved) {
	if ev.Err != nil {
		m.logger.Debug("устаревшая ошибка загрузки игрока %d: %v", ev.PID, ev.Err)
		return
	}
	var rec *player.Record
	if e, ok := m.entries[ev.PID]; ok {
		if e.state == Active {
			// блокировку держит активная сессия
			return
		}
		rec = e.record
	}
	data := ev.Data
	if rec != nil || !ev.Found {
		if rec == nil {
			rec = player.NewRecord(fmt.Sprintf("player%d", ev.PID), ev.PID)
		}
		encoded, err := player.EncodeRecord(rec)
		if err != nil {
			m.logger.Error("не удалось сериализовать игрока %d: %v", ev.PID, err)
			return
		}
		data = encoded
	}
	m.logger.Debug("загрузка игрока %d больше не нужна, запись возвращается", ev.PID)
	m.store.Save(ev.PID, data, true)
}

func (m *Manager) activate(netID protocol.NetID, rec *player.Record) {
	pid := rec.PID
	inst, err := m.instanceFor(rec.Location)
	if err != nil {
		m.logger.Warn("игрок %d: карта %q недоступна (%v), перенос на %s", pid, rec.Location, err, m.cfg.DefaultMap)
		inst, err = m.instanceFor(m.cfg.DefaultMap)
		if err != nil {
			m.logger.Error("карта по умолчанию %s недоступна: %v", m.cfg.DefaultMap, err)
			m.entries[pid] = cachedEntry(rec)
			m.save(pid, rec, true)
			m.reject(netID, pid, "no map")
			return
		}
		rec.SetPos(inst.SpawnPoint())
	}

	h := m.arena.Insert(player.New(rec, netID))
	if err := inst.SpawnPlayer(h); err != nil {
		m.logger.Error("не удалось разместить игрока %d: %v", pid, err)
		if _, rerr := m.arena.Release(h); rerr != nil {
			m.logger.WithField("invariant", "arena").Error("%v", rerr)
		}
		m.entries[pid] = cachedEntry(rec)
		m.save(pid, rec, true)
		m.reject(netID, pid, "spawn failed")
		return
	}

	m.entries[pid] = &entry{state: Active, handle: h, netID: netID, inst: inst}
	m.sessions[netID] = pid
	m.logger.Info("игрок %d (%s) в игре, соединение %d, карта %s", pid, rec.Name, netID, inst.Name())
	m.auditor.Emit(eventbus.TypePlayerJoined, 5, eventbus.PlayerLifecycle{PID: pid, NetID: netID, Map: inst.Name()})
}

func (m *Manager) disconnect(netID protocol.NetID) {
	pid, ok := m.sessions[netID]
	if !ok {
		for lp, ln := range m.loading {
			if ln == netID {
				// результат загрузки станет устаревшим и вернёт блокировку
				delete(m.loading, lp)
				m.logger.Debug("соединение %d закрыто во время загрузки игрока %d", netID, lp)
				return
			}
		}
		return
	}
	m.deactivate(pid, "disconnect")
}

// deactivate убирает игрока из инстанса, сохраняет запись со снятием
// блокировки и переводит её в кеш
func (m *Manager) deactivate(pid protocol.PID, reason string) *entry {
	e, ok := m.entries[pid]
	if !ok || e.state != Active {
		return nil
	}
	netID := e.netID
	delete(m.sessions, netID)

	if h, ok := e.inst.DespawnPlayer(netID); ok && h != e.handle {
		m.logger.WithField("invariant", "handle").Error("инстанс %s вернул чужой дескриптор %s для игрока %d", e.inst.Name(), h, pid)
	}
	p, err := m.arena.Release(e.handle)
	if err != nil {
		m.logger.WithField("invariant", "arena").Error("игрок %d: %v, запись потеряна", pid, err)
		delete(m.entries, pid)
		return nil
	}

	cached := cachedEntry(p.Data)
	m.entries[pid] = cached
	m.save(pid, p.Data, true)
	m.logger.Info("игрок %d вышел (%s)", pid, reason)
	m.auditor.Emit(eventbus.TypePlayerLeft, 5, eventbus.PlayerLifecycle{PID: pid, NetID: netID, Map: p.Data.Location, Reason: reason})
	return cached
}

// teardown разрывает сессию с нарушенным владением без сохранения
func (m *Manager) teardown(netID protocol.NetID) {
	pid, ok := m.sessions[netID]
	m.ch.PushServer(eventbus.PlayerForceDisconnect{NetID: netID})
	if !ok {
		return
	}
	delete(m.sessions, netID)
	if e, ok := m.entries[pid]; ok && e.state == Active {
		e.inst.DespawnPlayer(netID)
		if _, err := m.arena.Release(e.handle); err != nil {
			m.logger.Debug("дескриптор игрока %d уже освобождён: %v", pid, err)
		}
		delete(m.entries, pid)
	}
	m.logger.WithField("invariant", "ownership").Error("сессия игрока %d (соединение %d) разорвана", pid, netID)
	m.auditor.Emit(eventbus.TypePlayerRejected, 8, eventbus.PlayerLifecycle{PID: pid, NetID: netID, Reason: "invariant"})
}

func (m *Manager) transfer(netID protocol.NetID, mapName string, pos vec.Vec2) {
	e := m.activeByNet(netID)
	if e == nil {
		return
	}
	p, ok := m.livePlayer(e)
	if !ok {
		m.teardown(netID)
		return
	}
	target, err := m.instanceFor(mapName)
	if err != nil {
		m.logger.Warn("игрок %d: переход на карту %q отклонён: %v", p.PID(), mapName, err)
		return
	}

	from := e.inst
	oldPos := p.Pos()
	from.DespawnPlayer(netID)
	p.Data.SetPos(pos)
	if err := target.SpawnPlayer(e.handle); err != nil {
		m.logger.Error("игрок %d: не удалось войти на %s: %v", p.PID(), mapName, err)
		p.Data.SetPos(oldPos)
		if err := from.SpawnPlayer(e.handle); err != nil {
			m.logger.WithField("invariant", "transfer").Error("игрок %d потерял инстанс: %v", p.PID(), err)
			m.teardown(netID)
		}
		return
	}
	e.inst = target
	m.logger.Debug("игрок %d перешёл %s -> %s %v", p.PID(), from.Name(), target.Name(), p.Pos())
}

func (m *Manager) routeDM(dm eventbus.PlayerDM) {
	if target, ok := m.entries[dm.TargetPID]; ok && target.state == Active {
		m.ch.PushServer(eventbus.PlayerChatMessage{
			Text:    dm.Text,
			From:    dm.From,
			FromPID: dm.FromPID,
			IsDM:    true,
			NetID:   target.netID,
		})
		return
	}
	if sender, ok := m.entries[dm.FromPID]; ok && sender.state == Active {
		m.ch.PushServer(eventbus.PlayerChatMessage{Text: NotOnlineText, NetID: sender.netID})
	}
}

func (m *Manager) playerData(netID protocol.NetID, pid protocol.PID) {
	data := player.Null(pid)
	if rec, ok := m.record(pid); ok {
		data = rec.Public()
	}
	m.ch.PushServer(eventbus.PlayerDataResponse{Data: data, NetID: netID})
}

func (m *Manager) onSaved(ev eventbus.RecordSaved) {
	if ev.Err != nil {
		m.logger.Error("не удалось сохранить игрока %d: %v", ev.PID, ev.Err)
		return
	}
	m.logger.Debug("игрок %d сохранён (unlock=%v)", ev.PID, ev.Unlocked)
	m.auditor.Emit(eventbus.TypePlayerSaved, 1, eventbus.PlayerLifecycle{PID: ev.PID})
}

func (m *Manager) save(pid protocol.PID, rec *player.Record, unlock bool) {
	data, err := player.EncodeRecord(rec)
	if err != nil {
		m.logger.Error("не удалось сериализовать игрока %d: %v", pid, err)
		return
	}
	m.store.Save(pid, data, unlock)
}

func (m *Manager) ageEntries(dt time.Duration) {
	for pid, e := range m.entries {
		e.age += dt
		switch e.state {
		case Cached:
			if e.age > m.cfg.DataTimeout {
				delete(m.entries, pid)
				m.logger.Debug("запись игрока %d вытеснена", pid)
			}
		case Active:
			if e.age > m.cfg.SaveInterval {
				e.age = 0
				if p, ok := m.livePlayer(e); ok {
					m.save(pid, p.Data, false)
				}
			}
		}
	}
}

// instanceFor возвращает открытый инстанс карты или создаёт его
func (m *Manager) instanceFor(name string) (*instance.Instance, error) {
	if inst, ok := m.instances[name]; ok {
		return inst, nil
	}
	if m.maps == nil {
		return nil, fmt.Errorf("%w: %s", world.ErrUnknownMap, name)
	}
	data, err := m.maps.LoadMap(name)
	if err != nil {
		return nil, err
	}
	inst, err := instance.New(data, m.ch, m.arena, m.scripts, m.cfg.Instance)
	if err != nil {
		return nil, err
	}
	m.instances[name] = inst
	m.logger.Info("запущен инстанс %s", name)
	m.auditor.Emit(eventbus.TypeInstanceStarted, 5, eventbus.InstanceLifecycle{Map: name})
	return inst, nil
}

func (m *Manager) instanceNames() []string {
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown сохраняет всех активных игроков со снятием блокировки,
// разрывает их соединения и останавливает тики
func (m *Manager) Shutdown() {
	if m.stopped {
		return
	}
	pids := make([]protocol.PID, 0, len(m.entries))
	for pid, e := range m.entries {
		if e.state == Active {
			pids = append(pids, pid)
		}
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		netID := m.entries[pid].netID
		m.deactivate(pid, "shutdown")
		m.ch.PushServer(eventbus.PlayerForceDisconnect{NetID: netID})
	}
	for pid, netID := range m.loading {
		delete(m.loading, pid)
		m.ch.PushServer(eventbus.PlayerForceDisconnect{NetID: netID})
	}
	m.invites = make(map[inviteKey]time.Duration)
	m.stopped = true
	m.logger.Info("менеджер остановлен, сохранено игроков: %d", len(pids))
	m.auditor.Emit(eventbus.TypeServerStopped, 9, nil)
}

// Stats возвращает снимок счётчиков
func (m *Manager) Stats() Stats {
	s := Stats{
		Loading:   len(m.loading),
		Instances: len(m.instances),
		Invites:   len(m.invites),
		Maps:      make(map[string]int, len(m.instances)),
	}
	for _, e := range m.entries {
		switch e.state {
		case Active:
			s.Players++
		case Cached:
			s.Cached++
		}
	}
	for name, inst := range m.instances {
		s.Maps[name] = inst.Len()
	}
	return s
}

// ErrNotActive игрок не в игре
var ErrNotActive = errors.New("player is not active")

// Kick отключает игрока по PID
func (m *Manager) Kick(pid protocol.PID) error {
	e, ok := m.entries[pid]
	if !ok || e.state != Active {
		return fmt.Errorf("kick %d: %w", pid, ErrNotActive)
	}
	netID := e.netID
	m.deactivate(pid, "kick")
	m.ch.PushServer(eventbus.PlayerForceDisconnect{NetID: netID})
	return nil
}
