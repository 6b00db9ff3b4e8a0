package player

import (
	"errors"
	"fmt"
)

// ErrStaleHandle дескриптор указывает на освобождённый или переиспользованный слот
var ErrStaleHandle = errors.New("stale player handle")

// Handle стабильная ссылка на игрока в Arena.
// Нулевое значение никогда не бывает действительным.
type Handle struct {
	index      uint32
	generation uint32
}

// String для логов
func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.generation)
}

type arenaSlot struct {
	player     *Player
	generation uint32
}

// Arena хранит игроков всех инстансов. Слоты переиспользуются,
// поколение слота растёт при каждом освобождении.
type Arena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

// NewArena создаёт пустую арену
func NewArena() *Arena {
	return &Arena{}
}

// Insert размещает игрока и возвращает его дескриптор
func (a *Arena) Insert(p *Player) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{generation: 1})
		idx = uint32(len(a.slots) - 1)
	}
	a.slots[idx].player = p
	a.live++
	return Handle{index: idx, generation: a.slots[idx].generation}
}

// Get возвращает игрока по дескриптору
func (a *Arena) Get(h Handle) (*Player, bool) {
	if int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if s.generation != h.generation || s.player == nil {
		return nil, false
	}
	return s.player, true
}

// Release освобождает слот и возвращает игрока
func (a *Arena) Release(h Handle) (*Player, error) {
	p, ok := a.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	a.slots[h.index].player = nil
	a.slots[h.index].generation++
	a.free = append(a.free, h.index)
	a.live--
	return p, nil
}

// Len возвращает число живых игроков
func (a *Arena) Len() int { return a.live }
