package player

import (
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
)

// Move запрошенный шаг игрока
type Move struct {
	X, Y  int
	Speed int
}

// Pos возвращает целевую клетку шага
func (m Move) Pos() vec.Vec2 {
	return vec.Vec2{X: m.X, Y: m.Y}
}

// MoveBuffer очередь из двух ожидающих шагов.
// Новый шаг занимает первый слот, если тот пуст, иначе перезаписывает второй:
// при трёх быстрых запросах выполняются первый и последний.
type MoveBuffer struct {
	next, nextNext       Move
	hasNext, hasNextNext bool
}

// Push добавляет шаг в буфер
func (b *MoveBuffer) Push(m Move) {
	if !b.hasNext {
		b.next, b.hasNext = m, true
		return
	}
	b.nextNext, b.hasNextNext = m, true
}

// Peek возвращает ближайший шаг, не снимая его
func (b *MoveBuffer) Peek() (Move, bool) {
	if b.hasNext {
		return b.next, true
	}
	if b.hasNextNext {
		return b.nextNext, true
	}
	return Move{}, false
}

// Advance снимает ближайший шаг: второй слот сдвигается в первый
func (b *MoveBuffer) Advance() {
	b.next, b.hasNext = b.nextNext, b.hasNextNext
	b.nextNext, b.hasNextNext = Move{}, false
}

// Clear очищает буфер
func (b *MoveBuffer) Clear() {
	*b = MoveBuffer{}
}

// Len возвращает количество ожидающих шагов
func (b *MoveBuffer) Len() int {
	n := 0
	if b.hasNext {
		n++
	}
	if b.hasNextNext {
		n++
	}
	return n
}

// Player живое состояние игрока в инстансе
type Player struct {
	Data  *Record
	NetID protocol.NetID

	TicksSinceMove int
	Speed          int
	Moves          MoveBuffer

	// PublicDataVersion растёт при каждом изменении публичных данных;
	// клиенты сравнивают её со своей копией и перезапрашивают данные.
	PublicDataVersion uint32
	announcedVersion  uint32

	privateDataChanged bool
}

// New создаёт живое состояние для загруженной записи
func New(data *Record, netID protocol.NetID) *Player {
	return &Player{
		Data:              data,
		NetID:             netID,
		PublicDataVersion: 1,
		announcedVersion:  1,
	}
}

// PID возвращает постоянный идентификатор игрока
func (p *Player) PID() protocol.PID { return p.Data.PID }

// Pos возвращает текущую клетку игрока
func (p *Player) Pos() vec.Vec2 { return p.Data.Pos() }

// TouchPublic отмечает изменение публичных данных
func (p *Player) TouchPublic() {
	p.PublicDataVersion++
	p.privateDataChanged = true
}

// TouchPrivate отмечает изменение данных, видимых только владельцу
func (p *Player) TouchPrivate() {
	p.privateDataChanged = true
}

// TakePublicChange возвращает true один раз после изменения публичных данных
func (p *Player) TakePublicChange() bool {
	if p.announcedVersion == p.PublicDataVersion {
		return false
	}
	p.announcedVersion = p.PublicDataVersion
	return true
}

// TakePrivateChange возвращает true один раз после изменения приватных данных
func (p *Player) TakePrivateChange() bool {
	changed := p.privateDataChanged
	p.privateDataChanged = false
	return changed
}
