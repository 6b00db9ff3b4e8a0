package session

import (
	"testing"
	"time"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/instance"
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
	"github.com/annel0/fg-server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrieveCall struct {
	pid       protocol.PID
	exclusive bool
}

type saveCall struct {
	pid    protocol.PID
	data   []byte
	unlock bool
}

// fakeStore запоминает вызовы; завершения тест кладёт в очередь сам
type fakeStore struct {
	retrieves []retrieveCall
	saves     []saveCall
}

func (s *fakeStore) Retrieve(pid protocol.PID, exclusive bool) {
	s.retrieves = append(s.retrieves, retrieveCall{pid, exclusive})
}

func (s *fakeStore) Save(pid protocol.PID, data []byte, unlock bool) {
	s.saves = append(s.saves, saveCall{pid, data, unlock})
}

func (s *fakeStore) lastSave(t *testing.T) saveCall {
	t.Helper()
	require.NotEmpty(t, s.saves)
	return s.saves[len(s.saves)-1]
}

func testMap(name string) *world.MapData {
	return &world.MapData{
		Name:      name,
		Spawn:     vec.Vec2{X: 1, Y: 1},
		Collision: world.NewCollisionGrid(vec.Vec2{}, 32, 32),
	}
}

func newTestManager(t *testing.T) (*Manager, *eventbus.Channel, *fakeStore) {
	t.Helper()
	ch := eventbus.NewChannel()
	store := &fakeStore{}
	maps := world.StaticMapLoader{"map1": testMap("map1"), "map2": testMap("map2")}
	m := NewManager(ch, store, maps, Config{
		DataTimeout:   2 * time.Second,
		SaveInterval:  time.Second,
		InviteTimeout: time.Second,
		Instance:      instance.Config{CellSize: 8, CheckRadius: 1},
	})
	return m, ch, store
}

// login проводит соединение через загрузку новой записи
func login(t *testing.T, m *Manager, ch *eventbus.Channel, netID protocol.NetID, pid protocol.PID) {
	t.Helper()
	ch.PushGame(eventbus.PlayerJoined{NetID: netID, PID: pid})
	m.Tick(0)
	ch.PushGame(eventbus.RecordRetrieved{PID: pid})
	m.Tick(0)
	require.Equal(t, Active, m.State(pid))
}

func live(t *testing.T, m *Manager, pid protocol.PID) *player.Player {
	t.Helper()
	p, ok := m.livePlayer(m.entries[pid])
	require.True(t, ok)
	return p
}

func forceDisconnects(evs []eventbus.ServerEvent) []protocol.NetID {
	var out []protocol.NetID
	for _, ev := range evs {
		if fd, ok := ev.(eventbus.PlayerForceDisconnect); ok {
			out = append(out, fd.NetID)
		}
	}
	return out
}

func responses(evs []eventbus.ServerEvent, netID protocol.NetID) []protocol.Response {
	var out []protocol.Response
	for _, ev := range evs {
		if r, ok := ev.(eventbus.GenericResponse); ok && r.NetID == netID {
			out = append(out, r.Response)
		}
	}
	return out
}

func chats(evs []eventbus.ServerEvent, netID protocol.NetID) []eventbus.PlayerChatMessage {
	var out []eventbus.PlayerChatMessage
	for _, ev := range evs {
		if c, ok := ev.(eventbus.PlayerChatMessage); ok && c.NetID == netID {
			out = append(out, c)
		}
	}
	return out
}

func TestJoin(t *testing.T) {
	t.Run("NewPlayer", func(t *testing.T) {
		m, ch, store := newTestManager(t)
		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 5})
		m.Tick(0)
		assert.Equal(t, Loading, m.State(5))
		assert.Equal(t, []retrieveCall{{5, true}}, store.retrieves)

		ch.PushGame(eventbus.RecordRetrieved{PID: 5})
		m.Tick(0)
		assert.Equal(t, Active, m.State(5))
		assert.Contains(t, responses(ch.DrainServer(), 1), protocol.Response(protocol.LoadMap{Map: "map1"}))

		stats := m.Stats()
		assert.Equal(t, 1, stats.Players)
		assert.Equal(t, 1, stats.Instances)
		assert.Equal(t, 1, stats.Maps["map1"])
	})

	t.Run("DuplicateWhileActive", func(t *testing.T) {
		m, ch, store := newTestManager(t)
		login(t, m, ch, 1, 5)
		ch.DrainServer()

		ch.PushGame(eventbus.PlayerJoined{NetID: 2, PID: 5})
		m.Tick(0)
		assert.Equal(t, []protocol.NetID{2}, forceDisconnects(ch.DrainServer()))
		assert.Len(t, store.retrieves, 1, "повторной загрузки нет")
		e := m.activeByNet(1)
		require.NotNil(t, e, "активная запись не изменилась")
		assert.Equal(t, protocol.NetID(1), e.netID)
		assert.Nil(t, m.activeByNet(2))
	})

	t.Run("DuplicateWhileLoading", func(t *testing.T) {
		m, ch, _ := newTestManager(t)
		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 5})
		ch.PushGame(eventbus.PlayerJoined{NetID: 2, PID: 5})
		m.Tick(0)
		assert.Equal(t, []protocol.NetID{2}, forceDisconnects(ch.DrainServer()))
		assert.Equal(t, protocol.NetID(1), m.loading[5])
	})

	t.Run("CorruptRecord", func(t *testing.T) {
		m, ch, _ := newTestManager(t)
		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 5})
		m.Tick(0)
		ch.PushGame(eventbus.RecordRetrieved{PID: 5, Found: true, Data: []byte("garbage")})
		m.Tick(0)
		assert.Equal(t, []protocol.NetID{1}, forceDisconnects(ch.DrainServer()))
		assert.Equal(t, Offline, m.State(5))
	})

	t.Run("StoredRecord", func(t *testing.T) {
		m, ch, _ := newTestManager(t)
		rec := player.NewRecord("alice", 5)
		rec.Location = "map2"
		rec.SetPos(vec.Vec2{X: 3, Y: 3})
		rec.Gold = 42
		data, err := player.EncodeRecord(rec)
		require.NoError(t, err)

		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 5})
		m.Tick(0)
		ch.PushGame(eventbus.RecordRetrieved{PID: 5, Found: true, Data: data})
		m.Tick(0)

		p := live(t, m, 5)
		assert.Equal(t, "alice", p.Data.Name)
		assert.Equal(t, int64(42), p.Data.Gold)
		assert.Equal(t, vec.Vec2{X: 3, Y: 3}, p.Pos())
		assert.True(t, m.instances["map2"].Has(1))
	})

	t.Run("UnknownLocationFallsBack", func(t *testing.T) {
		m, ch, _ := newTestManager(t)
		rec := player.NewRecord("bob", 6)
		rec.Location = "nowhere"
		rec.SetPos(vec.Vec2{X: 9, Y: 9})
		data, err := player.EncodeRecord(rec)
		require.NoError(t, err)

		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 6})
		m.Tick(0)
		ch.PushGame(eventbus.RecordRetrieved{PID: 6, Found: true, Data: data})
		m.Tick(0)

		p := live(t, m, 6)
		assert.Equal(t, "map1", p.Data.Location)
		assert.Equal(t, vec.Vec2{X: 1, Y: 1}, p.Pos())
	})
}

func TestDisconnectAndEviction(t *testing.T) {
	m, ch, store := newTestManager(t)
	login(t, m, ch, 1, 5)
	live(t, m, 5).Data.Gold = 7

	ch.PushGame(eventbus.PlayerDisconnected{NetID: 1})
	m.Tick(0)
	assert.Equal(t, Cached, m.State(5))

	last := store.lastSave(t)
	assert.Equal(t, protocol.PID(5), last.pid)
	assert.True(t, last.unlock)
	saved, err := player.DecodeRecord(last.data, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), saved.Gold)

	m.Tick(1500 * time.Millisecond)
	assert.Equal(t, Cached, m.State(5))
	m.Tick(time.Second)
	assert.Equal(t, Offline, m.State(5), "кеш вытеснен по таймауту")
}

func TestRejoinUsesCache(t *testing.T) {
	m, ch, _ := newTestManager(t)
	login(t, m, ch, 1, 5)
	live(t, m, 5).Data.Gold = 99
	ch.PushGame(eventbus.PlayerDisconnected{NetID: 1})
	m.Tick(0)

	// хранилище ещё не успело записать данные
	login(t, m, ch, 2, 5)
	assert.Equal(t, int64(99), live(t, m, 5).Data.Gold)
	assert.Equal(t, protocol.NetID(2), m.entries[5].netID)
}

func TestPeriodicSave(t *testing.T) {
	m, ch, store := newTestManager(t)
	login(t, m, ch, 1, 5)

	m.Tick(600 * time.Millisecond)
	assert.Empty(t, store.saves)
	m.Tick(600 * time.Millisecond)
	require.Len(t, store.saves, 1)
	assert.False(t, store.saves[0].unlock)
	assert.Equal(t, Active, m.State(5), "сохранение не меняет состояние")
	assert.Zero(t, m.entries[5].age)
}

func TestStaleCompletions(t *testing.T) {
	t.Run("LeftDuringLoad", func(t *testing.T) {
		m, ch, store := newTestManager(t)
		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 5})
		ch.PushGame(eventbus.PlayerDisconnected{NetID: 1})
		m.Tick(0)
		assert.Equal(t, Offline, m.State(5))

		data, err := player.EncodeRecord(player.NewRecord("alice", 5))
		require.NoError(t, err)
		ch.PushGame(eventbus.RecordRetrieved{PID: 5, Found: true, Data: data})
		m.Tick(0)

		assert.Equal(t, Offline, m.State(5), "устаревшая загрузка не создаёт запись")
		assert.Equal(t, saveCall{5, data, true}, store.lastSave(t), "блокировка возвращается")
		assert.Empty(t, forceDisconnects(ch.DrainServer()))
	})

	t.Run("LastStateWins", func(t *testing.T) {
		m, ch, store := newTestManager(t)
		ch.PushGame(eventbus.PlayerJoined{NetID: 1, PID: 5})
		ch.PushGame(eventbus.PlayerDisconnected{NetID: 1})
		ch.PushGame(eventbus.PlayerJoined{NetID: 2, PID: 5})
		m.Tick(0)
		assert.Len(t, store.retrieves, 2)

		ch.PushGame(eventbus.RecordRetrieved{PID: 5})
		m.Tick(0)
		assert.Equal(t, protocol.NetID(2), m.entries[5].netID)

		ch.PushGame(eventbus.RecordRetrieved{PID: 5})
		m.Tick(0)
		assert.Equal(t, Active, m.State(5))
		assert.Equal(t, protocol.NetID(2), m.entries[5].netID)
		assert.Empty(t, store.saves, "активную блокировку не снимаем")
	})

	t.Run("SavedIsInformational", func(t *testing.T) {
		m, ch, _ := newTestManager(t)
		login(t, m, ch, 1, 5)
		ch.PushGame(eventbus.RecordSaved{PID: 5, Err: assert.AnError})
		ch.PushGame(eventbus.RecordSaved{PID: 77, Unlocked: true})
		m.Tick(0)
		assert.Equal(t, Active, m.State(5))
		assert.Equal(t, Offline, m.State(77))
	})
}

func TestTransfer(t *testing.T) {
	m, ch, _ := newTestManager(t)
	login(t, m, ch, 1, 5)

	ch.PushGame(eventbus.PlayerJoinInstance{Map: "map2", X: 2, Y: 2, NetID: 1})
	m.Tick(0)
	assert.True(t, m.instances["map2"].Has(1))
	assert.False(t, m.instances["map1"].Has(1))
	p := live(t, m, 5)
	assert.Equal(t, "map2", p.Data.Location)
	assert.Equal(t, vec.Vec2{X: 2, Y: 2}, p.Pos())

	ch.PushGame(eventbus.PlayerJoinInstance{Map: "missing", X: 2, Y: 2, NetID: 1})
	m.Tick(0)
	assert.True(t, m.instances["map2"].Has(1), "неизвестная карта не трогает игрока")
}

func TestDirectMessages(t *testing.T) {
	m, ch, _ := newTestManager(t)
	login(t, m, ch, 1, 5)
	login(t, m, ch, 2, 6)
	ch.DrainServer()

	ch.PushGame(eventbus.PlayerChat{Text: "hey", TargetPID: 6, NetID: 1})
	m.Tick(0)
	m.Tick(0)
	got := chats(ch.DrainServer(), 2)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsDM)
	assert.Equal(t, protocol.PID(5), got[0].FromPID)

	ch.PushGame(eventbus.PlayerChat{Text: "hey", TargetPID: 99, NetID: 1})
	m.Tick(0)
	m.Tick(0)
	got = chats(ch.DrainServer(), 1)
	require.Len(t, got, 1)
	assert.Equal(t, NotOnlineText, got[0].Text)
	assert.Empty(t, got[0].From, "системное сообщение")
}

func TestPlayerDataRequest(t *testing.T) {
	m, ch, _ := newTestManager(t)
	login(t, m, ch, 1, 5)
	live(t, m, 5).Data.Gold = 10
	ch.DrainServer()

	ch.PushGame(eventbus.PlayerDataRequest{PID: 5, NetID: 1})
	ch.PushGame(eventbus.PlayerDataRequest{PID: 40, NetID: 1})
	m.Tick(0)

	var data []*player.Record
	for _, ev := range ch.DrainServer() {
		if d, ok := ev.(eventbus.PlayerDataResponse); ok {
			data = append(data, d.Data)
		}
	}
	require.Len(t, data, 2)
	assert.Equal(t, protocol.PID(5), data[0].PID)
	assert.Zero(t, data[0].Gold, "чужим видны только публичные поля")
	assert.True(t, data[1].IsNull())
}

func TestFriends(t *testing.T) {
	setup := func(t *testing.T) (*Manager, *eventbus.Channel, *fakeStore) {
		m, ch, store := newTestManager(t)
		login(t, m, ch, 1, 5)
		login(t, m, ch, 2, 6)
		ch.DrainServer()
		return m, ch, store
	}
	invite := func(ch *eventbus.Channel, netID protocol.NetID, target protocol.PID) {
		ch.PushGame(eventbus.PlayerAction{Action: protocol.FriendInvite{TargetPID: target}, NetID: netID})
	}
	accept := func(ch *eventbus.Channel, netID protocol.NetID, inviter protocol.PID) {
		ch.PushGame(eventbus.PlayerAction{Action: protocol.FriendAccept{InviterPID: inviter}, NetID: netID})
	}

	t.Run("InviteAndAccept", func(t *testing.T) {
		m, ch, _ := setup(t)
		invite(ch, 1, 6)
		invite(ch, 1, 6)
		m.Tick(0)
		evs := ch.DrainServer()
		assert.Equal(t, []protocol.Response{
			protocol.FriendInviteResult{PID: 6, Outcome: protocol.InviteSent},
			protocol.FriendInviteResult{PID: 6, Outcome: protocol.InviteDuplicate},
		}, responses(evs, 1))
		assert.Equal(t, []protocol.Response{protocol.FriendInviteReceived{FromPID: 5, FromName: "player5"}}, responses(evs, 2))

		accept(ch, 2, 5)
		m.Tick(0)
		evs = ch.DrainServer()
		assert.Contains(t, responses(evs, 2), protocol.Response(protocol.FriendInviteResult{PID: 5, Outcome: protocol.InviteAccepted}))
		assert.Contains(t, responses(evs, 1), protocol.Response(protocol.FriendAdded{PID: 6, Name: "player6"}))
		assert.True(t, live(t, m, 5).Data.HasFriend(6))
		assert.True(t, live(t, m, 6).Data.HasFriend(5))

		accept(ch, 2, 5)
		invite(ch, 1, 6)
		m.Tick(0)
		evs = ch.DrainServer()
		assert.Contains(t, responses(evs, 2), protocol.Response(protocol.FriendInviteResult{PID: 5, Outcome: protocol.InviteExpired}))
		assert.Contains(t, responses(evs, 1), protocol.Response(protocol.FriendInviteResult{PID: 6, Outcome: protocol.InviteAlreadyFriends}))
	})

	t.Run("Expired", func(t *testing.T) {
		m, ch, _ := setup(t)
		invite(ch, 1, 6)
		m.Tick(0)
		m.Tick(1500 * time.Millisecond)
		ch.DrainServer()

		accept(ch, 2, 5)
		m.Tick(0)
		assert.Equal(t, []protocol.Response{protocol.FriendInviteResult{PID: 5, Outcome: protocol.InviteExpired}}, responses(ch.DrainServer(), 2))
		assert.False(t, live(t, m, 6).Data.HasFriend(5))
	})

	t.Run("NeverInvited", func(t *testing.T) {
		m, ch, _ := setup(t)
		accept(ch, 2, 1234)
		m.Tick(0)
		assert.Equal(t, []protocol.Response{protocol.FriendInviteResult{PID: 1234, Outcome: protocol.InviteExpired}}, responses(ch.DrainServer(), 2))
	})

	t.Run("NotOnline", func(t *testing.T) {
		m, ch, _ := setup(t)
		invite(ch, 1, 99)
		m.Tick(0)
		assert.Equal(t, []protocol.Response{protocol.FriendInviteResult{PID: 99, Outcome: protocol.InviteNotOnline}}, responses(ch.DrainServer(), 1))
		assert.Zero(t, m.Stats().Invites)
	})

	t.Run("InviterCached", func(t *testing.T) {
		m, ch, store := setup(t)
		invite(ch, 1, 6)
		m.Tick(0)
		ch.PushGame(eventbus.PlayerDisconnected{NetID: 1})
		m.Tick(0)
		accept(ch, 2, 5)
		m.Tick(0)

		assert.True(t, m.entries[5].record.HasFriend(6))
		last := store.lastSave(t)
		assert.Equal(t, protocol.PID(5), last.pid)
		assert.True(t, last.unlock, "запись вышедшего игрока сохраняется без блокировки")
	})
}

func TestShutdown(t *testing.T) {
	m, ch, store := newTestManager(t)
	login(t, m, ch, 1, 5)
	login(t, m, ch, 2, 6)
	ch.PushGame(eventbus.PlayerJoined{NetID: 3, PID: 7})
	m.Tick(0)
	ch.DrainServer()

	ch.PushGame(eventbus.ShutdownRequested{})
	m.Tick(0)
	assert.True(t, m.Stopped())
	assert.Equal(t, Cached, m.State(5))
	assert.Equal(t, Cached, m.State(6))
	assert.ElementsMatch(t, []protocol.NetID{1, 2, 3}, forceDisconnects(ch.DrainServer()))
	require.Len(t, store.saves, 2)
	for _, s := range store.saves {
		assert.True(t, s.unlock)
	}

	ch.PushGame(eventbus.PlayerJoined{NetID: 4, PID: 8})
	ch.PushGame(eventbus.RecordRetrieved{PID: 7})
	m.Tick(0)
	assert.Equal(t, Offline, m.State(8), "после остановки входы игнорируются")
	assert.Len(t, store.saves, 3, "загрузка, прерванная остановкой, возвращает блокировку")
}

func TestTeardownOnStaleHandle(t *testing.T) {
	m, ch, _ := newTestManager(t)
	login(t, m, ch, 1, 5)
	ch.DrainServer()

	_, err := m.arena.Release(m.entries[5].handle)
	require.NoError(t, err)
	m.Tick(0)

	assert.Equal(t, []protocol.NetID{1}, forceDisconnects(ch.DrainServer()))
	assert.Equal(t, Offline, m.State(5))
	assert.False(t, m.instances["map1"].Has(1))
}

func TestKick(t *testing.T) {
	m, ch, _ := newTestManager(t)
	login(t, m, ch, 1, 5)
	ch.DrainServer()

	require.NoError(t, m.Kick(5))
	assert.Equal(t, Cached, m.State(5))
	assert.Equal(t, []protocol.NetID{1}, forceDisconnects(ch.DrainServer()))
	assert.ErrorIs(t, m.Kick(5), ErrNotActive)
}
