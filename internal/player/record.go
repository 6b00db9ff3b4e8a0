// Package player описывает сохраняемые данные игрока и его состояние
// внутри инстанса.
package player

import (
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
)

// DefaultLocation карта, на которой появляются новые игроки
const DefaultLocation = "map1"

// Skill навык игрока
type Skill int

const (
	Woodcutting Skill = iota
	Mining
	Smelting
	Crafting
	Farming
	Strength
	Agility
	Endurance
	Magic
	Ranged

	NumSkills = 10
)

// MaxSkillLevel предельный уровень навыка
const MaxSkillLevel = 99

var skillNames = [NumSkills]string{
	"woodcutting", "mining", "smelting", "crafting", "farming",
	"strength", "agility", "endurance", "magic", "ranged",
}

// String возвращает имя навыка
func (s Skill) String() string {
	if s < 0 || int(s) >= NumSkills {
		return "unknown"
	}
	return skillNames[s]
}

// ParseSkill находит навык по имени
func ParseSkill(name string) (Skill, bool) {
	for i, n := range skillNames {
		if n == name {
			return Skill(i), true
		}
	}
	return 0, false
}

// Record сохраняемые данные игрока
type Record struct {
	Name     string           `msgpack:"name"`
	PID      protocol.PID     `msgpack:"pid"`
	Location string           `msgpack:"location"`
	X        int              `msgpack:"x"`
	Y        int              `msgpack:"y"`
	Skills   [NumSkills]uint8 `msgpack:"skills"`
	Progress [NumSkills]int32 `msgpack:"progress"`
	Items    []Item           `msgpack:"items"`
	Gold     int64            `msgpack:"gold"`
	Friends  []protocol.PID   `msgpack:"friends"`
}

// NewRecord создаёт данные нового игрока с навыками первого уровня
func NewRecord(name string, pid protocol.PID) *Record {
	r := &Record{
		Name:     name,
		PID:      pid,
		Location: DefaultLocation,
	}
	for i := range r.Skills {
		r.Skills[i] = 1
	}
	return r
}

// Null запись-заглушка: пустая локация означает, что игрок покинул зону видимости
func Null(pid protocol.PID) *Record {
	return &Record{PID: pid}
}

// IsNull сообщает, является ли запись заглушкой
func (r *Record) IsNull() bool {
	return r.Location == ""
}

// Pos возвращает позицию игрока
func (r *Record) Pos() vec.Vec2 {
	return vec.Vec2{X: r.X, Y: r.Y}
}

// SetPos устанавливает позицию игрока
func (r *Record) SetPos(p vec.Vec2) {
	r.X, r.Y = p.X, p.Y
}

// Public возвращает копию, пригодную для показа другим игрокам
func (r *Record) Public() *Record {
	return &Record{
		Name:     r.Name,
		PID:      r.PID,
		Location: r.Location,
		X:        r.X,
		Y:        r.Y,
		Skills:   r.Skills,
	}
}

// Clone возвращает глубокую копию
func (r *Record) Clone() *Record {
	c := *r
	c.Items = make([]Item, len(r.Items))
	copy(c.Items, r.Items)
	c.Friends = append([]protocol.PID(nil), r.Friends...)
	return &c
}

// GrantExperience начисляет опыт навыку и возвращает число полученных уровней.
// Переход с уровня n на n+1 стоит 100*n очков.
func (r *Record) GrantExperience(s Skill, amount int32) int {
	if s < 0 || int(s) >= NumSkills || amount <= 0 {
		return 0
	}
	gained := 0
	r.Progress[s] += amount
	for r.Skills[s] < MaxSkillLevel {
		need := int32(r.Skills[s]) * 100
		if r.Progress[s] < need {
			break
		}
		r.Progress[s] -= need
		r.Skills[s]++
		gained++
	}
	return gained
}

// ChangeGold изменяет количество золота; баланс не уходит ниже нуля.
// Возвращает false, если списание невозможно.
func (r *Record) ChangeGold(delta int64) bool {
	if r.Gold+delta < 0 {
		return false
	}
	r.Gold += delta
	return true
}

// HasFriend сообщает, есть ли pid в списке друзей
func (r *Record) HasFriend(pid protocol.PID) bool {
	for _, f := range r.Friends {
		if f == pid {
			return true
		}
	}
	return false
}

// AddFriend добавляет друга, если его ещё нет в списке
func (r *Record) AddFriend(pid protocol.PID) bool {
	if pid == r.PID || r.HasFriend(pid) {
		return false
	}
	r.Friends = append(r.Friends, pid)
	return true
}
