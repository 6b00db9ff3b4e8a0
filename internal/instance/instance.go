// Package instance содержит симуляцию одной карты: перемещение игроков,
// объекты мира со скриптами и рассылку уведомлений соседям.
package instance

import (
	"fmt"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
	"github.com/annel0/fg-server/internal/world"
)

// Config параметры пространственных индексов инстанса
type Config struct {
	CellSize    int
	CheckRadius int
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		CellSize:    world.DefaultCellSize,
		CheckRadius: world.DefaultCheckRadius,
	}
}

type deferredDespawn struct {
	pos vec.Vec2
	pid protocol.PID
}

type deferredEffects struct {
	source  protocol.EntityID
	netID   protocol.NetID
	effects []Effect
}

// Instance запущенная копия карты.
// Все методы вызываются из одной горутины тикового цикла.
type Instance struct {
	name      string
	ch        *eventbus.Channel
	arena     *player.Arena
	scripts   Scripts
	collision *world.CollisionGrid
	spawn     vec.Vec2

	players   map[protocol.NetID]player.Handle
	residents []protocol.NetID // в порядке появления
	index     *world.SpatialIndex[protocol.NetID, player.Handle]
	entities  *Entities

	despawns []deferredDespawn
	deferred []deferredEffects
	broken   []protocol.NetID

	tick   uint64
	logger *logging.Logger
}

// New создаёт инстанс карты и регистрирует её объекты
func New(data *world.MapData, ch *eventbus.Channel, arena *player.Arena, scripts Scripts, cfg Config) (*Instance, error) {
	if data == nil || data.Collision == nil {
		return nil, fmt.Errorf("%w: карта без сетки проходимости", world.ErrInvalidGrid)
	}
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if scripts == nil {
		scripts = DefaultScripts()
	}

	tl, br := data.Collision.Bounds()
	index, err := world.NewSpatialIndex[protocol.NetID, player.Handle](cfg.CellSize, tl, br, cfg.CheckRadius)
	if err != nil {
		return nil, fmt.Errorf("индекс игроков карты %s: %w", data.Name, err)
	}
	visible, err := world.NewSpatialIndex[protocol.EntityID, *Entity](cfg.CellSize, tl, br, cfg.CheckRadius)
	if err != nil {
		return nil, fmt.Errorf("индекс объектов карты %s: %w", data.Name, err)
	}

	inst := &Instance{
		name:      data.Name,
		ch:        ch,
		arena:     arena,
		scripts:   scripts,
		collision: data.Collision,
		spawn:     data.Spawn,
		players:   make(map[protocol.NetID]player.Handle),
		index:     index,
		entities:  newEntities(visible),
		logger:    logging.GetGameLogger().WithField("map", data.Name),
	}

	for _, spec := range data.Entities {
		if _, err := inst.RegisterEntity(spec); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Name возвращает имя карты
func (i *Instance) Name() string { return i.name }

// Len возвращает число игроков в инстансе
func (i *Instance) Len() int { return len(i.players) }

// Entities возвращает реестр объектов
func (i *Instance) Entities() *Entities { return i.entities }

// SpawnPoint возвращает точку появления карты
func (i *Instance) SpawnPoint() vec.Vec2 { return i.spawn }

// Has сообщает, находится ли соединение в инстансе
func (i *Instance) Has(netID protocol.NetID) bool {
	_, ok := i.players[netID]
	return ok
}

// Blocked сообщает, непроходима ли клетка
func (i *Instance) Blocked(pos vec.Vec2) bool { return i.collision.Blocked(pos) }

// RegisterEntity создаёт объект по описанию
func (i *Instance) RegisterEntity(spec world.EntitySpec) (*Entity, error) {
	script, err := i.scripts.Build(spec)
	if err != nil {
		return nil, err
	}
	e := entityFromSpec(spec, script)
	if err := i.entities.add(e); err != nil {
		return nil, fmt.Errorf("карта %s: %w", i.name, err)
	}
	return e, nil
}

// player возвращает живое состояние игрока. Устаревший дескриптор
// означает нарушение владения: соединение помечается для разрыва.
func (i *Instance) player(netID protocol.NetID) (*player.Player, bool) {
	h, ok := i.players[netID]
	if !ok {
		return nil, false
	}
	p, ok := i.arena.Get(h)
	if !ok {
		i.logger.WithField("invariant", "handle").Error("дескриптор %s соединения %d устарел", h, netID)
		i.markBroken(netID)
		return nil, false
	}
	return p, true
}

func (i *Instance) markBroken(netID protocol.NetID) {
	for _, id := range i.broken {
		if id == netID {
			return
		}
	}
	i.broken = append(i.broken, netID)
}

// TakeBroken возвращает соединения с нарушенным владением и очищает список
func (i *Instance) TakeBroken() []protocol.NetID {
	out := i.broken
	i.broken = nil
	return out
}

// SpawnPlayer размещает игрока в инстансе. Если сохранённая клетка
// непроходима, игрок появляется в точке появления карты.
func (i *Instance) SpawnPlayer(h player.Handle) error {
	p, ok := i.arena.Get(h)
	if !ok {
		return fmt.Errorf("спавн на карте %s: %w", i.name, player.ErrStaleHandle)
	}
	netID := p.NetID
	if _, dup := i.players[netID]; dup {
		return fmt.Errorf("соединение %d уже на карте %s", netID, i.name)
	}

	pos := p.Pos()
	if i.collision.Blocked(pos) {
		i.logger.Debug("клетка %v непроходима, игрок %d появится в %v", pos, p.PID(), i.spawn)
		pos = i.spawn
	}
	if !i.index.Insert(netID, h, pos) {
		return fmt.Errorf("точка появления %v вне карты %s", pos, i.name)
	}
	p.Data.SetPos(pos)
	p.Data.Location = i.name
	p.TicksSinceMove = 0
	p.Speed = 0
	p.Moves.Clear()

	i.players[netID] = h
	i.residents = append(i.residents, netID)

	i.ch.PushServer(eventbus.GenericResponse{Response: protocol.LoadMap{Map: i.name}, NetID: netID})

	i.index.ForEachAdjacent(pos, func(id protocol.NetID, oh player.Handle) {
		if id == netID {
			return
		}
		other, ok := i.arena.Get(oh)
		if !ok {
			return
		}
		i.ch.PushServer(eventbus.PlayerMoveResponse{
			X:           other.Data.X,
			Y:           other.Data.Y,
			PID:         other.PID(),
			DataVersion: other.PublicDataVersion,
			NetID:       netID,
		})
	})
	i.entities.visible.ForEachAdjacent(pos, func(_ protocol.EntityID, e *Entity) {
		i.ch.PushServer(entityMove(e, netID))
	})

	i.logger.Info("игрок %d (%s) вошёл в %v", p.PID(), p.Data.Name, pos)
	return nil
}

// DespawnPlayer убирает игрока из инстанса и возвращает его дескриптор.
// Соседи узнают об уходе в начале следующего тика.
func (i *Instance) DespawnPlayer(netID protocol.NetID) (player.Handle, bool) {
	h, ok := i.players[netID]
	if !ok {
		return player.Handle{}, false
	}
	delete(i.players, netID)
	for k, id := range i.residents {
		if id == netID {
			i.residents = append(i.residents[:k], i.residents[k+1:]...)
			break
		}
	}

	p, ok := i.arena.Get(h)
	if !ok {
		// позиция неизвестна, запись ищется по всем ячейкам
		i.index.Purge(netID)
		i.logger.WithField("invariant", "handle").Error("деспавн соединения %d с устаревшим дескриптором %s", netID, h)
		return h, false
	}
	pos := p.Pos()
	i.index.Remove(netID, pos)
	p.Moves.Clear()
	i.despawns = append(i.despawns, deferredDespawn{pos: pos, pid: p.PID()})
	return h, true
}

// QueueMove ставит шаг игрока в буфер
func (i *Instance) QueueMove(netID protocol.NetID, x, y, speed int) {
	p, ok := i.player(netID)
	if !ok {
		return
	}
	if speed < 1 {
		speed = 1
	}
	p.Moves.Push(player.Move{X: x, Y: y, Speed: speed})
}

// HandleInteraction запускает скрипт интерактивного объекта в клетке (x, y).
// Игрок должен стоять не дальше InteractDistance от объекта.
func (i *Instance) HandleInteraction(netID protocol.NetID, x, y int) {
	p, ok := i.player(netID)
	if !ok {
		return
	}
	at := vec.Vec2{X: x, Y: y}
	e := i.entities.InteractableAt(at)
	if e == nil {
		i.logger.Warn("игрок %d взаимодействует с пустой клеткой %v", p.PID(), at)
		return
	}
	if d := p.Pos().Chebyshev(at); d > e.InteractDistance {
		i.logger.Warn("игрок %d слишком далеко от объекта %d: %d > %d", p.PID(), e.ID, d, e.InteractDistance)
		return
	}
	effects := e.Script.OnInteract(i.trigger(e, netID, p.Data))
	i.applyEffects(e.ID, netID, effects)
}

// EntityData отвечает данными объекта; если объекта в клетке нет, данные пустые
func (i *Instance) EntityData(netID protocol.NetID, x, y int, id protocol.EntityID) {
	resp := eventbus.EntityDataResponse{EntityID: id, NetID: netID}
	if e, ok := i.entities.Get(id); ok && e.Pos == (vec.Vec2{X: x, Y: y}) {
		resp.Interactable = e.Interactable
		resp.Walkable = e.Walkable
		resp.Scene = e.Scene
		resp.Data = e.copyData()
	}
	i.ch.PushServer(resp)
}

// BroadcastChat рассылает сообщение всем игрокам карты либо, для личного
// сообщения, передаёт его менеджеру через игровую очередь
func (i *Instance) BroadcastChat(netID protocol.NetID, text string, target protocol.PID) {
	p, ok := i.player(netID)
	if !ok {
		return
	}
	if target != protocol.AllPlayers {
		i.ch.PushGame(eventbus.PlayerDM{Text: text, From: p.Data.Name, FromPID: p.PID(), TargetPID: target})
		return
	}
	for _, id := range i.residents {
		i.ch.PushServer(eventbus.PlayerChatMessage{Text: text, From: p.Data.Name, FromPID: p.PID(), NetID: id})
	}
}

// Tick продвигает симуляцию на один шаг. Порядок этапов фиксирован.
func (i *Instance) Tick() {
	i.tick++
	i.flushDespawns()
	i.flushDeferred()
	i.broadcastPlayers()
	i.resolveMoves()
	i.tickEntities()
	i.broadcastEntities()
}

func (i *Instance) flushDespawns() {
	despawns := i.despawns
	i.despawns = nil
	for _, d := range despawns {
		i.index.ForEachAdjacent(d.pos, func(id protocol.NetID, _ player.Handle) {
			i.ch.PushServer(eventbus.PlayerDataResponse{Data: player.Null(d.pid), NetID: id})
		})
	}
}

func (i *Instance) flushDeferred() {
	batch := i.deferred
	i.deferred = nil
	for _, d := range batch {
		i.applyEffects(d.source, d.netID, d.effects)
	}
}

func (i *Instance) broadcastPlayers() {
	for _, netID := range i.residents {
		p, ok := i.player(netID)
		if !ok {
			continue
		}
		publicChanged := p.TakePublicChange()
		if p.TicksSinceMove == 0 || publicChanged {
			i.announcePlayer(p)
		}
		if p.TakePrivateChange() {
			i.ch.PushServer(eventbus.PlayerDataResponse{Data: p.Data.Clone(), Private: true, NetID: netID})
		}
	}
}

// announcePlayer рассылает позицию игрока всем соседям, включая его самого
func (i *Instance) announcePlayer(p *player.Player) {
	i.index.ForEachAdjacent(p.Pos(), func(id protocol.NetID, _ player.Handle) {
		i.ch.PushServer(eventbus.PlayerMoveResponse{
			X:           p.Data.X,
			Y:           p.Data.Y,
			Speed:       p.Speed,
			PID:         p.PID(),
			DataVersion: p.PublicDataVersion,
			NetID:       id,
		})
	})
}

func (i *Instance) resolveMoves() {
	for _, netID := range i.residents {
		p, ok := i.player(netID)
		if !ok {
			continue
		}
		p.TicksSinceMove++
		next, ok := p.Moves.Peek()
		if !ok || p.TicksSinceMove < next.Speed {
			continue
		}
		i.tryMove(netID, p, next)
		p.Moves.Advance()
	}
}

func (i *Instance) tryMove(netID protocol.NetID, p *player.Player, m player.Move) {
	from := p.Pos()
	to := m.Pos()
	if from.Chebyshev(to) != 1 {
		i.logger.Warn("игрок %d: недопустимый шаг %v -> %v", p.PID(), from, to)
		return
	}
	if i.collision.Blocked(to) {
		i.logger.Warn("игрок %d: шаг в стену %v", p.PID(), to)
		return
	}
	i.relocate(netID, p, to, m.Speed)
	if e := i.entities.WalkableAt(to); e != nil {
		effects := e.Script.OnWalk(i.trigger(e, netID, p.Data))
		if len(effects) > 0 {
			i.deferred = append(i.deferred, deferredEffects{source: e.ID, netID: netID, effects: effects})
		}
	}
}

// relocate переносит игрока и сообщает ему о новых соседях.
// Остальные узнают о переходе на следующем тике.
func (i *Instance) relocate(netID protocol.NetID, p *player.Player, to vec.Vec2, speed int) {
	from := p.Pos()
	p.Data.SetPos(to)
	p.Speed = speed
	p.TicksSinceMove = 0

	delta := i.index.UpdatePos(netID, from, to)
	i.index.ForEachNewlyAdjacent(delta, func(_ protocol.NetID, oh player.Handle) {
		other, ok := i.arena.Get(oh)
		if !ok {
			return
		}
		i.ch.PushServer(eventbus.PlayerMoveResponse{
			X:           other.Data.X,
			Y:           other.Data.Y,
			PID:         other.PID(),
			DataVersion: other.PublicDataVersion,
			NetID:       netID,
		})
	})
	world.ForEachNewlyVisible(delta, i.entities.visible, func(_ protocol.EntityID, e *Entity) {
		i.ch.PushServer(entityMove(e, netID))
	})
}

func (i *Instance) tickEntities() {
	for _, e := range i.entities.snapshot() {
		effects := e.Script.OnTick(i.trigger(e, 0, nil))
		if len(effects) > 0 {
			i.deferred = append(i.deferred, deferredEffects{source: e.ID, effects: effects})
		}
	}
}

func (i *Instance) broadcastEntities() {
	for _, e := range i.entities.snapshot() {
		if !e.changed {
			continue
		}
		e.changed = false
		if !e.Visible {
			continue
		}
		i.index.ForEachAdjacent(e.Pos, func(id protocol.NetID, _ player.Handle) {
			i.ch.PushServer(entityMove(e, id))
		})
	}
}

func (i *Instance) trigger(e *Entity, netID protocol.NetID, rec *player.Record) Trigger {
	return Trigger{
		Self:     e,
		NetID:    netID,
		Player:   rec,
		Tick:     i.tick,
		Occupied: i.occupied,
	}
}

// occupied сообщает, занята ли клетка стеной, объектом или игроком
func (i *Instance) occupied(pos vec.Vec2) bool {
	if i.collision.Blocked(pos) || i.entities.Occupied(pos) {
		return true
	}
	found := false
	i.index.ForEachInCell(i.index.CellOf(pos), func(_ protocol.NetID, h player.Handle) {
		if p, ok := i.arena.Get(h); ok && p.Pos() == pos {
			found = true
		}
	})
	return found
}

func entityMove(e *Entity, netID protocol.NetID) eventbus.EntityMoveResponse {
	return eventbus.EntityMoveResponse{
		X:           e.Pos.X,
		Y:           e.Pos.Y,
		Speed:       e.Speed,
		EntityID:    e.ID,
		DataVersion: e.DataVersion,
		NetID:       netID,
	}
}
