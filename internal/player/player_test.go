package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveBuffer(t *testing.T) {
	t.Run("ThreeMovesKeepFirstAndLast", func(t *testing.T) {
		var b MoveBuffer
		b.Push(Move{X: 1, Y: 0, Speed: 1})
		b.Push(Move{X: 2, Y: 0, Speed: 1})
		b.Push(Move{X: 3, Y: 0, Speed: 1})

		m, ok := b.Peek()
		require.True(t, ok)
		assert.Equal(t, 1, m.X, "первым выполняется первый запрос")

		b.Advance()
		m, ok = b.Peek()
		require.True(t, ok)
		assert.Equal(t, 3, m.X, "второй запрос перезаписан третьим")

		b.Advance()
		_, ok = b.Peek()
		assert.False(t, ok, "буфер должен опустеть")
		assert.Equal(t, 0, b.Len())
	})

	t.Run("AdvanceOnEmpty", func(t *testing.T) {
		var b MoveBuffer
		b.Advance()
		_, ok := b.Peek()
		assert.False(t, ok)

		b.Push(Move{X: 5})
		assert.Equal(t, 1, b.Len())
		b.Clear()
		assert.Equal(t, 0, b.Len())
	})
}

func TestPlayerChangeFlags(t *testing.T) {
	p := New(NewRecord("ann", 7), 3)

	assert.False(t, p.TakePublicChange())
	assert.False(t, p.TakePrivateChange())

	p.TouchPublic()
	assert.True(t, p.TakePublicChange())
	assert.False(t, p.TakePublicChange(), "изменение сообщается один раз")
	assert.True(t, p.TakePrivateChange(), "публичное изменение видно и владельцу")

	p.TouchPrivate()
	assert.False(t, p.TakePublicChange())
	assert.True(t, p.TakePrivateChange())
	assert.Equal(t, uint32(2), p.PublicDataVersion)
}

func TestArena(t *testing.T) {
	a := NewArena()

	assert.False(t, func() bool { _, ok := a.Get(Handle{}); return ok }(), "нулевой дескриптор недействителен")

	p1 := New(NewRecord("a", 1), 1)
	h1 := a.Insert(p1)
	got, ok := a.Get(h1)
	require.True(t, ok)
	assert.Same(t, p1, got)
	assert.Equal(t, 1, a.Len())

	released, err := a.Release(h1)
	require.NoError(t, err)
	assert.Same(t, p1, released)

	_, err = a.Release(h1)
	assert.ErrorIs(t, err, ErrStaleHandle)

	p2 := New(NewRecord("b", 2), 2)
	h2 := a.Insert(p2)
	_, ok = a.Get(h1)
	assert.False(t, ok, "старый дескриптор не должен видеть нового игрока в том же слоте")
	got, ok = a.Get(h2)
	require.True(t, ok)
	assert.Same(t, p2, got)
	assert.Equal(t, 1, a.Len())
}

func TestRecordCodec(t *testing.T) {
	r := NewRecord("ann", 42)
	r.X, r.Y = -5, 12
	r.Gold = 100
	r.AddItem(Item{ID: "log", Name: "Log", Stackable: true, Count: 3})
	r.AddFriend(7)

	data, err := EncodeRecord(r)
	require.NoError(t, err)

	back, err := DecodeRecord(data, 42)
	require.NoError(t, err)
	assert.Equal(t, r.Name, back.Name)
	assert.Equal(t, r.Pos(), back.Pos())
	assert.Equal(t, r.Skills, back.Skills)
	assert.Equal(t, int32(3), back.CountItem("log"))
	assert.True(t, back.HasFriend(7))

	t.Run("WrongPID", func(t *testing.T) {
		_, err := DecodeRecord(data, 43)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
	t.Run("Empty", func(t *testing.T) {
		_, err := DecodeRecord(nil, 42)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
	t.Run("Garbage", func(t *testing.T) {
		_, err := DecodeRecord([]byte("not zstd at all"), 42)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
}

func TestRecordHelpers(t *testing.T) {
	t.Run("NullAndPublic", func(t *testing.T) {
		assert.True(t, Null(5).IsNull())
		r := NewRecord("ann", 5)
		assert.False(t, r.IsNull())
		assert.Equal(t, DefaultLocation, r.Location)

		r.Gold = 10
		r.AddItem(Item{ID: "gem"})
		pub := r.Public()
		assert.Equal(t, "ann", pub.Name)
		assert.Zero(t, pub.Gold)
		assert.Empty(t, pub.Items)
	})

	t.Run("Items", func(t *testing.T) {
		r := NewRecord("ann", 5)
		r.AddItem(Item{ID: "ore", Stackable: true, Count: 2})
		r.AddItem(Item{ID: "ore", Stackable: true, Count: 3})
		r.AddItem(Item{ID: "sword", Count: 1})
		r.AddItem(Item{ID: "sword", Count: 1})
		assert.Len(t, r.Items, 3, "мечи не стакаются")
		assert.Equal(t, int32(5), r.CountItem("ore"))

		assert.False(t, r.TakeItem("ore", 6))
		assert.Equal(t, int32(5), r.CountItem("ore"), "при нехватке инвентарь не меняется")
		assert.True(t, r.TakeItem("ore", 5))
		assert.True(t, r.TakeItem("sword", 2))
		assert.Empty(t, r.Items)
	})

	t.Run("Split", func(t *testing.T) {
		it := Item{ID: "ore", Stackable: true, Count: 5}
		part, ok := it.TrySplit(2)
		require.True(t, ok)
		assert.Equal(t, int32(2), part.Count)
		assert.Equal(t, int32(3), it.Count)
		_, ok = it.TrySplit(3)
		assert.False(t, ok, "стопку нельзя опустошить")
	})

	t.Run("Experience", func(t *testing.T) {
		r := NewRecord("ann", 5)
		assert.Equal(t, 0, r.GrantExperience(Mining, 99))
		assert.Equal(t, 1, r.GrantExperience(Mining, 1))
		assert.Equal(t, uint8(2), r.Skills[Mining])
		assert.Equal(t, 2, r.GrantExperience(Mining, 500))
		assert.Equal(t, uint8(4), r.Skills[Mining])
		assert.Equal(t, int32(0), r.Progress[Mining])
	})

	t.Run("GoldAndFriends", func(t *testing.T) {
		r := NewRecord("ann", 5)
		assert.True(t, r.ChangeGold(10))
		assert.False(t, r.ChangeGold(-11))
		assert.Equal(t, int64(10), r.Gold)

		assert.False(t, r.AddFriend(5), "себя добавить нельзя")
		assert.True(t, r.AddFriend(6))
		assert.False(t, r.AddFriend(6))
	})

	t.Run("ParseSkill", func(t *testing.T) {
		s, ok := ParseSkill("magic")
		require.True(t, ok)
		assert.Equal(t, Magic, s)
		assert.Equal(t, "magic", s.String())
		_, ok = ParseSkill("cooking")
		assert.False(t, ok)
	})
}
