package instance

import (
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/world"
)

// Effect результат срабатывания скрипта объекта.
// Набор вариантов закрыт; эффекты применяет инстанс.
type Effect interface {
	effect()
}

// MoveSelf перемещает объект-источник
type MoveSelf struct {
	X, Y  int
	Speed int
}

// MovePlayer переносит игрока внутри инстанса
type MovePlayer struct {
	NetID protocol.NetID
	X, Y  int
	Speed int
}

// MovePlayerToMap переводит игрока на другую карту
type MovePlayerToMap struct {
	Map   string
	X, Y  int
	NetID protocol.NetID
}

// GiveItem кладёт предмет в инвентарь игрока
type GiveItem struct {
	NetID protocol.NetID
	Item  player.Item
}

// TakeItem забирает предметы; при нехватке ничего не происходит
type TakeItem struct {
	NetID  protocol.NetID
	ItemID string
	Count  int32
}

// ChangeGold изменяет золото игрока, баланс не уходит ниже нуля
type ChangeGold struct {
	NetID protocol.NetID
	Delta int64
}

// GrantExperience начисляет опыт навыку
type GrantExperience struct {
	NetID  protocol.NetID
	Skill  player.Skill
	Amount int32
}

// ChatBroadcast сообщение от имени объекта всем игрокам инстанса
type ChatBroadcast struct {
	Text string
}

// Whisper сообщение от имени объекта одному игроку
type Whisper struct {
	NetID protocol.NetID
	Text  string
}

// SetData меняет публичное поле объекта-источника
type SetData struct {
	Key, Value string
}

// DespawnSelf удаляет объект-источник
type DespawnSelf struct{}

// RegisterEntity создаёт новый объект
type RegisterEntity struct {
	Spec world.EntitySpec
}

// Noop ничего не делает
type Noop struct{}

func (MoveSelf) effect()        {}
func (MovePlayer) effect()      {}
func (MovePlayerToMap) effect() {}
func (GiveItem) effect()        {}
func (TakeItem) effect()        {}
func (ChangeGold) effect()      {}
func (GrantExperience) effect() {}
func (ChatBroadcast) effect()   {}
func (Whisper) effect()         {}
func (SetData) effect()         {}
func (DespawnSelf) effect()     {}
func (RegisterEntity) effect()  {}
func (Noop) effect()            {}
