package instance

import (
	"testing"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
	"github.com/annel0/fg-server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// тестовая карта 48x48, ячейки по 8, радиус 1, стена в (6,6)
func newTestInstance(t *testing.T, specs ...world.EntitySpec) (*Instance, *eventbus.Channel, *player.Arena) {
	t.Helper()
	grid := world.NewCollisionGrid(vec.Vec2{}, 48, 48)
	grid.SetBlocked(vec.Vec2{X: 6, Y: 6}, true)
	data := &world.MapData{
		Name:      "test",
		Spawn:     vec.Vec2{X: 1, Y: 1},
		Collision: grid,
		Entities:  specs,
	}
	ch := eventbus.NewChannel()
	arena := player.NewArena()
	inst, err := New(data, ch, arena, DefaultScripts(), Config{CellSize: 8, CheckRadius: 1})
	require.NoError(t, err)
	return inst, ch, arena
}

func spawnAt(t *testing.T, inst *Instance, arena *player.Arena, netID protocol.NetID, pid protocol.PID, pos vec.Vec2) *player.Player {
	t.Helper()
	rec := player.NewRecord("p", pid)
	rec.SetPos(pos)
	p := player.New(rec, netID)
	require.NoError(t, inst.SpawnPlayer(arena.Insert(p)))
	return p
}

// eventsOf выбирает события одного типа для соединения netID
func eventsOf[T eventbus.ServerEvent](evs []eventbus.ServerEvent, netID protocol.NetID) []T {
	var out []T
	for _, ev := range evs {
		if e, ok := ev.(T); ok && ev.Target() == netID {
			out = append(out, e)
		}
	}
	return out
}

func TestSpawn(t *testing.T) {
	t.Run("LoadMapAndNeighbours", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t)
		a := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
		ch.DrainServer()

		spawnAt(t, inst, arena, 2, 20, vec.Vec2{X: 6, Y: 5})
		evs := ch.DrainServer()

		loads := eventsOf[eventbus.GenericResponse](evs, 2)
		require.Len(t, loads, 1)
		assert.Equal(t, protocol.LoadMap{Map: "test"}, loads[0].Response)

		moves := eventsOf[eventbus.PlayerMoveResponse](evs, 2)
		require.Len(t, moves, 1, "новичку приходит позиция соседа")
		assert.Equal(t, a.PID(), moves[0].PID)
		assert.Equal(t, 0, moves[0].Speed)
		assert.Empty(t, eventsOf[eventbus.PlayerMoveResponse](evs, 1), "соседи узнают о новичке на тике")

		inst.Tick()
		evs = ch.DrainServer()
		assert.Len(t, eventsOf[eventbus.PlayerMoveResponse](evs, 1), 2, "оба только что появились")
	})

	t.Run("BlockedCellFallsBackToSpawn", func(t *testing.T) {
		inst, _, arena := newTestInstance(t)
		p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 6, Y: 6})
		assert.Equal(t, vec.Vec2{X: 1, Y: 1}, p.Pos())
		assert.Equal(t, "test", p.Data.Location)
	})

	t.Run("DuplicateNetID", func(t *testing.T) {
		inst, _, arena := newTestInstance(t)
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
		h := arena.Insert(player.New(player.NewRecord("x", 11), 1))
		assert.Error(t, inst.SpawnPlayer(h))
		assert.Equal(t, 1, inst.Len())
	})

	t.Run("StaleHandle", func(t *testing.T) {
		inst, _, arena := newTestInstance(t)
		h := arena.Insert(player.New(player.NewRecord("x", 11), 1))
		_, err := arena.Release(h)
		require.NoError(t, err)
		assert.ErrorIs(t, inst.SpawnPlayer(h), player.ErrStaleHandle)
	})
}

func TestMovement(t *testing.T) {
	t.Run("CommitAndBroadcast", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t)
		p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
		ch.DrainServer()

		inst.QueueMove(1, 6, 5, 1)
		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 6, Y: 5}, p.Pos())
		assert.Equal(t, 0, p.TicksSinceMove)
		ch.DrainServer()

		inst.Tick()
		moves := eventsOf[eventbus.PlayerMoveResponse](ch.DrainServer(), 1)
		require.Len(t, moves, 1)
		assert.Equal(t, eventbus.PlayerMoveResponse{X: 6, Y: 5, Speed: 1, PID: 10, DataVersion: 1, NetID: 1}, moves[0])

		inst.Tick()
		assert.Empty(t, ch.DrainServer(), "без движения тишина")
	})

	t.Run("SpeedDelaysMove", func(t *testing.T) {
		inst, _, arena := newTestInstance(t)
		p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})

		inst.QueueMove(1, 5, 4, 3)
		inst.Tick()
		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 5, Y: 5}, p.Pos())
		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 5, Y: 4}, p.Pos())
		assert.Equal(t, 3, p.Speed)
	})

	t.Run("BlockedRejectedButDequeued", func(t *testing.T) {
		inst, _, arena := newTestInstance(t)
		p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})

		inst.QueueMove(1, 6, 6, 1)
		inst.QueueMove(1, 6, 5, 1)
		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 5, Y: 5}, p.Pos(), "в стену не пускает")
		assert.Equal(t, 1, p.Moves.Len())

		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 6, Y: 5}, p.Pos())
		assert.Equal(t, 0, p.Moves.Len())
	})

	t.Run("NonAdjacentRejected", func(t *testing.T) {
		inst, _, arena := newTestInstance(t)
		p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})

		inst.QueueMove(1, 8, 5, 1)
		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 5, Y: 5}, p.Pos())
		assert.Equal(t, 0, p.Moves.Len())

		inst.QueueMove(1, 5, 5, 1)
		inst.Tick()
		assert.Equal(t, vec.Vec2{X: 5, Y: 5}, p.Pos(), "шаг на месте тоже отклоняется")
	})

	t.Run("NewlyAdjacentOnly", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t)
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 7, Y: 7})
		spawnAt(t, inst, arena, 2, 20, vec.Vec2{X: 20, Y: 20})
		spawnAt(t, inst, arena, 3, 30, vec.Vec2{X: 9, Y: 9})
		inst.Tick()
		ch.DrainServer()

		inst.QueueMove(1, 8, 8, 1)
		inst.Tick()
		moves := eventsOf[eventbus.PlayerMoveResponse](ch.DrainServer(), 1)
		require.Len(t, moves, 1, "только игрок из новой ячейки")
		assert.Equal(t, protocol.PID(20), moves[0].PID)
		assert.Equal(t, 0, moves[0].Speed)
	})

	t.Run("NewlyVisibleEntity", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t, world.EntitySpec{ID: 4, Name: "tree", Pos: vec.Vec2{X: 20, Y: 20}, Visible: true})
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 7, Y: 7})
		inst.Tick()
		ch.DrainServer()

		inst.QueueMove(1, 8, 8, 1)
		inst.Tick()
		ents := eventsOf[eventbus.EntityMoveResponse](ch.DrainServer(), 1)
		require.Len(t, ents, 1)
		assert.Equal(t, protocol.EntityID(4), ents[0].EntityID)
	})
}

func TestWalkTriggerDeferred(t *testing.T) {
	inst, ch, arena := newTestInstance(t, world.EntitySpec{
		ID: 7, Name: "coins", Pos: vec.Vec2{X: 8, Y: 8},
		Walkable: true, Visible: true, Script: "gold",
		Params: map[string]string{"amount": "5"},
	})
	p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 7, Y: 7})
	inst.Tick()
	ch.DrainServer()

	inst.QueueMove(1, 8, 8, 1)
	inst.Tick()
	assert.Equal(t, int64(0), p.Data.Gold, "эффект откладывается до следующего тика")
	ch.DrainServer()

	inst.Tick()
	assert.Equal(t, int64(5), p.Data.Gold)
	_, ok := inst.Entities().Get(7)
	assert.False(t, ok, "кучка исчезает")

	evs := ch.DrainServer()
	gone := eventsOf[eventbus.EntityDespawned](evs, 1)
	require.Len(t, gone, 1)
	assert.Equal(t, protocol.EntityID(7), gone[0].EntityID)

	priv := eventsOf[eventbus.PlayerDataResponse](evs, 1)
	require.Len(t, priv, 1)
	assert.True(t, priv[0].Private)
	assert.Equal(t, int64(5), priv[0].Data.Gold)
}

func TestTeleportToMap(t *testing.T) {
	inst, ch, arena := newTestInstance(t, world.EntitySpec{
		Name: "door", Pos: vec.Vec2{X: 6, Y: 5}, Walkable: true, Script: "teleport",
		Params: map[string]string{"map": "map2", "x": "3", "y": "4"},
	})
	spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
	inst.QueueMove(1, 6, 5, 1)
	inst.Tick()
	assert.Empty(t, ch.DrainGame())

	inst.Tick()
	assert.Equal(t, []eventbus.GameEvent{eventbus.PlayerJoinInstance{Map: "map2", X: 3, Y: 4, NetID: 1}}, ch.DrainGame())
}

func TestInteraction(t *testing.T) {
	sign := world.EntitySpec{
		ID: 5, Name: "sign", Pos: vec.Vec2{X: 3, Y: 3}, Interactable: true, Scene: "sign.tscn",
		Script: "sign", Params: map[string]string{"text": "hello"},
	}

	t.Run("Distance", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t, sign)
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
		spawnAt(t, inst, arena, 2, 20, vec.Vec2{X: 4, Y: 3})
		ch.DrainServer()

		inst.HandleInteraction(1, 3, 3)
		assert.Empty(t, ch.DrainServer(), "слишком далеко")

		inst.HandleInteraction(2, 3, 3)
		chat := eventsOf[eventbus.PlayerChatMessage](ch.DrainServer(), 2)
		require.Len(t, chat, 1)
		assert.Equal(t, "hello", chat[0].Text)
		assert.Equal(t, "sign", chat[0].From)

		inst.HandleInteraction(2, 4, 4)
		assert.Empty(t, ch.DrainServer(), "пустая клетка")
	})

	t.Run("Trainer", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t, world.EntitySpec{
			Name: "trainer", Pos: vec.Vec2{X: 3, Y: 3}, Interactable: true, Script: "trainer",
			Params: map[string]string{"skill": "mining", "amount": "100", "cost": "10"},
		})
		p := spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 4, Y: 4})
		ch.DrainServer()

		inst.HandleInteraction(1, 3, 3)
		assert.Len(t, eventsOf[eventbus.PlayerChatMessage](ch.DrainServer(), 1), 1)
		assert.Equal(t, uint8(1), p.Data.Skills[player.Mining])

		p.Data.Gold = 20
		inst.HandleInteraction(1, 3, 3)
		assert.Equal(t, int64(10), p.Data.Gold)
		assert.Equal(t, uint8(2), p.Data.Skills[player.Mining])
		assert.Equal(t, uint32(2), p.PublicDataVersion)
	})

	t.Run("EntityData", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t, sign)
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
		ch.DrainServer()

		inst.EntityData(1, 3, 3, 5)
		inst.EntityData(1, 4, 4, 5)
		evs := eventsOf[eventbus.EntityDataResponse](ch.DrainServer(), 1)
		require.Len(t, evs, 2)
		assert.True(t, evs[0].Interactable)
		assert.Equal(t, "sign.tscn", evs[0].Scene)
		assert.Equal(t, "hello", evs[0].Data["text"])
		assert.Empty(t, evs[1].Data, "в другой клетке объекта нет")
	})
}

func TestChat(t *testing.T) {
	inst, ch, arena := newTestInstance(t)
	spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
	spawnAt(t, inst, arena, 2, 20, vec.Vec2{X: 40, Y: 40})
	ch.DrainServer()

	inst.BroadcastChat(1, "hi", protocol.AllPlayers)
	evs := ch.DrainServer()
	assert.Len(t, eventsOf[eventbus.PlayerChatMessage](evs, 1), 1)
	assert.Len(t, eventsOf[eventbus.PlayerChatMessage](evs, 2), 1, "чат зоны не зависит от расстояния")

	inst.BroadcastChat(1, "psst", 42)
	assert.Empty(t, ch.DrainServer())
	assert.Equal(t, []eventbus.GameEvent{eventbus.PlayerDM{Text: "psst", From: "p", FromPID: 10, TargetPID: 42}}, ch.DrainGame())
}

func TestDespawn(t *testing.T) {
	inst, ch, arena := newTestInstance(t)
	spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
	spawnAt(t, inst, arena, 2, 20, vec.Vec2{X: 6, Y: 5})
	inst.Tick()
	ch.DrainServer()

	h, ok := inst.DespawnPlayer(1)
	require.True(t, ok)
	assert.False(t, inst.Has(1))
	_, alive := arena.Get(h)
	assert.True(t, alive, "дескриптор возвращается вызывающему")
	assert.Empty(t, ch.DrainServer(), "соседи узнают на следующем тике")

	inst.Tick()
	data := eventsOf[eventbus.PlayerDataResponse](ch.DrainServer(), 2)
	require.Len(t, data, 1)
	assert.True(t, data[0].Data.IsNull())
	assert.Equal(t, protocol.PID(10), data[0].Data.PID)

	_, ok = inst.DespawnPlayer(1)
	assert.False(t, ok)
}

func TestStaleHandleMarksBroken(t *testing.T) {
	inst, _, arena := newTestInstance(t)
	spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
	h, ok := inst.players[1]
	require.True(t, ok)
	_, err := arena.Release(h)
	require.NoError(t, err)

	inst.QueueMove(1, 6, 5, 1)
	inst.Tick()
	assert.Equal(t, []protocol.NetID{1}, inst.TakeBroken())
	assert.Empty(t, inst.TakeBroken())
}

func TestDespawnStaleHandleClearsIndex(t *testing.T) {
	inst, ch, arena := newTestInstance(t)
	spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 5, Y: 5})
	spawnAt(t, inst, arena, 2, 20, vec.Vec2{X: 30, Y: 30})
	h := inst.players[1]
	_, err := arena.Release(h)
	require.NoError(t, err)

	_, ok := inst.DespawnPlayer(1)
	assert.False(t, ok)
	assert.False(t, inst.Has(1))
	assert.Equal(t, 1, inst.index.Len(), "запись устаревшего соединения удалена")

	ch.DrainServer()
	inst.Tick()
	for _, ev := range ch.DrainServer() {
		assert.NotEqual(t, protocol.NetID(1), ev.Target(), "ушедшему соединению ничего не отправляется")
	}
}

func TestEntityScripts(t *testing.T) {
	t.Run("Patrol", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t, world.EntitySpec{
			ID: 3, Name: "guard", Pos: vec.Vec2{X: 20, Y: 5}, Visible: true, Script: "patrol",
			Params: map[string]string{"interval": "2", "dx": "1"},
		})
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 18, Y: 5})
		inst.Tick()
		ch.DrainServer()

		inst.Tick()
		inst.Tick()
		e, ok := inst.Entities().Get(3)
		require.True(t, ok)
		assert.Equal(t, vec.Vec2{X: 21, Y: 5}, e.Pos)

		moves := eventsOf[eventbus.EntityMoveResponse](ch.DrainServer(), 1)
		require.Len(t, moves, 1)
		assert.Equal(t, 21, moves[0].X)
		assert.Equal(t, 2, moves[0].Speed)
	})

	t.Run("PatrolStopsAtMapEdge", func(t *testing.T) {
		inst, ch, arena := newTestInstance(t, world.EntitySpec{
			ID: 3, Name: "guard", Pos: vec.Vec2{X: 47, Y: 5}, Visible: true, Script: "patrol",
			Params: map[string]string{"interval": "1", "dx": "1"},
		})
		inst.Tick()
		inst.Tick()
		inst.Tick()

		e, ok := inst.Entities().Get(3)
		require.True(t, ok)
		assert.Equal(t, vec.Vec2{X: 47, Y: 5}, e.Pos, "за край карты объект не уходит")
		got, ok := inst.entities.visible.Get(e.Pos, 3)
		require.True(t, ok, "запись индекса в ячейке текущей позиции")
		assert.Same(t, e, got)

		inst.applyEffect(3, 0, DespawnSelf{})
		assert.Equal(t, 0, inst.Entities().Len())
		assert.Equal(t, 0, inst.entities.visible.Len(), "в индексе не остаётся призраков")

		ch.DrainServer()
		spawnAt(t, inst, arena, 1, 10, vec.Vec2{X: 44, Y: 5})
		assert.Empty(t, eventsOf[eventbus.EntityMoveResponse](ch.DrainServer(), 1))
	})

	t.Run("PatrolDoesNotEnterWall", func(t *testing.T) {
		inst, _, _ := newTestInstance(t, world.EntitySpec{
			ID: 4, Name: "guard", Pos: vec.Vec2{X: 5, Y: 6}, Visible: true, Script: "patrol",
			Params: map[string]string{"interval": "1", "dx": "1"},
		})
		inst.Tick()
		inst.Tick()
		e, ok := inst.Entities().Get(4)
		require.True(t, ok)
		assert.Equal(t, vec.Vec2{X: 5, Y: 6}, e.Pos, "стена в (6,6)")
	})

	t.Run("Spawner", func(t *testing.T) {
		inst, _, _ := newTestInstance(t, world.EntitySpec{
			Name: "well", Pos: vec.Vec2{X: 30, Y: 30}, Script: "spawner",
			Params: map[string]string{"interval": "1", "dx": "1", "child_name": "coin", "child_script": "gold", "child_amount": "3"},
		})
		inst.Tick()
		assert.Equal(t, 1, inst.Entities().Len(), "создание откладывается")
		inst.Tick()
		assert.Equal(t, 2, inst.Entities().Len())
		assert.NotNil(t, inst.Entities().WalkableAt(vec.Vec2{X: 31, Y: 30}))
		inst.Tick()
		inst.Tick()
		assert.Equal(t, 2, inst.Entities().Len(), "занятая клетка не заполняется повторно")
	})

	t.Run("UnknownScript", func(t *testing.T) {
		data := &world.MapData{
			Name:      "bad",
			Collision: world.NewCollisionGrid(vec.Vec2{}, 8, 8),
			Entities:  []world.EntitySpec{{Name: "x", Script: "nope"}},
		}
		_, err := New(data, eventbus.NewChannel(), player.NewArena(), nil, Config{})
		assert.Error(t, err)
	})

	t.Run("DuplicateInteractableCell", func(t *testing.T) {
		data := &world.MapData{
			Name:      "bad",
			Collision: world.NewCollisionGrid(vec.Vec2{}, 8, 8),
			Entities: []world.EntitySpec{
				{Name: "a", Pos: vec.Vec2{X: 1, Y: 1}, Interactable: true},
				{Name: "b", Pos: vec.Vec2{X: 1, Y: 1}, Interactable: true},
			},
		}
		_, err := New(data, eventbus.NewChannel(), player.NewArena(), nil, Config{})
		assert.Error(t, err)
	})
}

func TestShippedMapsBuild(t *testing.T) {
	loader := world.NewFileMapLoader("../../maps")
	for _, name := range []string{"map1", "forest"} {
		data, err := loader.LoadMap(name)
		require.NoError(t, err)
		_, err = New(data, eventbus.NewChannel(), player.NewArena(), DefaultScripts(), Config{CellSize: 8, CheckRadius: 3})
		assert.NoError(t, err, "карта %s", name)
	}
}
