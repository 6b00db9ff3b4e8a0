package instance

import (
	"fmt"

	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
	"github.com/annel0/fg-server/internal/world"
)

// Entity объект мира с поведением, заданным скриптом
type Entity struct {
	ID               protocol.EntityID
	Name             string
	Pos              vec.Vec2
	Speed            int
	Interactable     bool
	Walkable         bool
	Visible          bool
	InteractDistance int
	Scene            string
	Data             map[string]string
	DataVersion      uint32
	Script           Script

	changed bool // позиция или публичные данные изменились с прошлой рассылки
}

// SetData меняет публичное поле объекта
func (e *Entity) SetData(key, value string) {
	if e.Data == nil {
		e.Data = make(map[string]string)
	}
	if e.Data[key] == value {
		return
	}
	e.Data[key] = value
	e.DataVersion++
	e.changed = true
}

func (e *Entity) copyData() map[string]string {
	out := make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		out[k] = v
	}
	return out
}

// Entities реестр объектов инстанса. Интерактивные и проходимые объекты
// ищутся по клетке, видимые лежат в пространственном индексе.
type Entities struct {
	all           map[protocol.EntityID]*Entity
	order         []protocol.EntityID
	interactables map[vec.Vec2]*Entity
	walkables     map[vec.Vec2]*Entity
	visible       *world.SpatialIndex[protocol.EntityID, *Entity]
	nextID        protocol.EntityID
}

func newEntities(visible *world.SpatialIndex[protocol.EntityID, *Entity]) *Entities {
	return &Entities{
		all:           make(map[protocol.EntityID]*Entity),
		interactables: make(map[vec.Vec2]*Entity),
		walkables:     make(map[vec.Vec2]*Entity),
		visible:       visible,
		nextID:        1,
	}
}

// add регистрирует объект; ID назначается, если не задан или занят
func (es *Entities) add(e *Entity) error {
	if e.ID <= 0 || es.all[e.ID] != nil {
		for es.all[es.nextID] != nil {
			es.nextID++
		}
		e.ID = es.nextID
	}
	if e.ID >= es.nextID {
		es.nextID = e.ID + 1
	}
	if e.Interactable {
		if other := es.interactables[e.Pos]; other != nil {
			return fmt.Errorf("клетка %v уже занята интерактивным объектом %d", e.Pos, other.ID)
		}
	}
	if e.Walkable {
		if other := es.walkables[e.Pos]; other != nil {
			return fmt.Errorf("клетка %v уже занята проходимым объектом %d", e.Pos, other.ID)
		}
	}
	if e.Visible && !es.visible.Insert(e.ID, e, e.Pos) {
		return fmt.Errorf("объект %d вне границ карты: %v", e.ID, e.Pos)
	}
	if e.Interactable {
		es.interactables[e.Pos] = e
	}
	if e.Walkable {
		es.walkables[e.Pos] = e
	}
	es.all[e.ID] = e
	es.order = append(es.order, e.ID)
	return nil
}

// remove удаляет объект из всех таблиц
func (es *Entities) remove(id protocol.EntityID) (*Entity, bool) {
	e, ok := es.all[id]
	if !ok {
		return nil, false
	}
	delete(es.all, id)
	for i, oid := range es.order {
		if oid == id {
			es.order = append(es.order[:i], es.order[i+1:]...)
			break
		}
	}
	if es.interactables[e.Pos] == e {
		delete(es.interactables, e.Pos)
	}
	if es.walkables[e.Pos] == e {
		delete(es.walkables, e.Pos)
	}
	if e.Visible {
		es.visible.Remove(id, e.Pos)
	}
	return e, true
}

// move переносит объект в клетку to. Занятая клетка в таблицах поиска
// не перезаписывается, видимый объект не уходит за пределы индекса.
func (es *Entities) move(e *Entity, to vec.Vec2, speed int) bool {
	if e.Visible && !es.visible.Contains(to) {
		return false
	}
	if e.Interactable && es.interactables[to] != nil && es.interactables[to] != e {
		return false
	}
	if e.Walkable && es.walkables[to] != nil && es.walkables[to] != e {
		return false
	}
	from := e.Pos
	if e.Interactable {
		delete(es.interactables, from)
		es.interactables[to] = e
	}
	if e.Walkable {
		delete(es.walkables, from)
		es.walkables[to] = e
	}
	if e.Visible {
		es.visible.UpdatePos(e.ID, from, to)
	}
	e.Pos = to
	e.Speed = speed
	e.changed = true
	return true
}

// Get возвращает объект по ID
func (es *Entities) Get(id protocol.EntityID) (*Entity, bool) {
	e, ok := es.all[id]
	return e, ok
}

// InteractableAt возвращает интерактивный объект в клетке
func (es *Entities) InteractableAt(pos vec.Vec2) *Entity { return es.interactables[pos] }

// WalkableAt возвращает проходимый объект в клетке
func (es *Entities) WalkableAt(pos vec.Vec2) *Entity { return es.walkables[pos] }

// Occupied сообщает, стоит ли в клетке какой-либо объект
func (es *Entities) Occupied(pos vec.Vec2) bool {
	if es.interactables[pos] != nil || es.walkables[pos] != nil {
		return true
	}
	for _, id := range es.order {
		if es.all[id].Pos == pos {
			return true
		}
	}
	return false
}

// Len возвращает число объектов
func (es *Entities) Len() int { return len(es.all) }

// snapshot возвращает объекты в порядке регистрации
func (es *Entities) snapshot() []*Entity {
	out := make([]*Entity, 0, len(es.order))
	for _, id := range es.order {
		out = append(out, es.all[id])
	}
	return out
}

func entityFromSpec(spec world.EntitySpec, script Script) *Entity {
	dist := spec.InteractDistance
	if dist <= 0 {
		dist = 1
	}
	data := make(map[string]string, len(spec.Params))
	for k, v := range spec.Params {
		data[k] = v
	}
	return &Entity{
		ID:               protocol.EntityID(spec.ID),
		Name:             spec.Name,
		Pos:              spec.Pos,
		Interactable:     spec.Interactable,
		Walkable:         spec.Walkable,
		Visible:          spec.Visible,
		InteractDistance: dist,
		Scene:            spec.Scene,
		Data:             data,
		DataVersion:      1,
		Script:           script,
	}
}
