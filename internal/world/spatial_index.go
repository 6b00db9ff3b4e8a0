package world

import (
	"errors"
	"fmt"

	"github.com/annel0/fg-server/internal/vec"
)

// Значения по умолчанию для индексов инстанса
const (
	DefaultCellSize    = 8
	DefaultCheckRadius = 3
)

// ErrInvalidGrid возвращается при некорректных параметрах сетки
var ErrInvalidGrid = errors.New("invalid spatial grid")

// Entry пара (идентификатор, полезная нагрузка), хранимая в ячейке
type Entry[I comparable, T any] struct {
	ID    I
	Value T
}

// SpatialIndex представляет пространственный индекс для быстрого поиска соседей.
// Прямоугольник мира разбит на квадратные ячейки размера cellSize,
// каждая ячейка хранит список записей. Индекс не потокобезопасен:
// им владеет один инстанс.
type SpatialIndex[I comparable, T any] struct {
	cellSize    int
	topLeft     vec.Vec2 // координаты левой верхней ячейки
	width       int
	height      int
	checkRadius int

	cells [][]Entry[I, T]
}

// NewSpatialIndex создаёт новый пространственный индекс, покрывающий
// прямоугольник [topLeft; bottomRight] включительно.
func NewSpatialIndex[I comparable, T any](cellSize int, topLeft, bottomRight vec.Vec2, checkRadius int) (*SpatialIndex[I, T], error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("%w: cell size %d", ErrInvalidGrid, cellSize)
	}
	if checkRadius < 0 {
		return nil, fmt.Errorf("%w: check radius %d", ErrInvalidGrid, checkRadius)
	}
	if bottomRight.X < topLeft.X || bottomRight.Y < topLeft.Y {
		return nil, fmt.Errorf("%w: bounds %v..%v", ErrInvalidGrid, topLeft, bottomRight)
	}

	tl := topLeft.FloorDiv(cellSize)
	br := bottomRight.FloorDiv(cellSize)
	width := br.X - tl.X + 1
	height := br.Y - tl.Y + 1

	return &SpatialIndex[I, T]{
		cellSize:    cellSize,
		topLeft:     tl,
		width:       width,
		height:      height,
		checkRadius: checkRadius,
		cells:       make([][]Entry[I, T], width*height),
	}, nil
}

// CellSize возвращает сторону ячейки в клетках мира
func (si *SpatialIndex[I, T]) CellSize() int { return si.cellSize }

// CheckRadius возвращает радиус соседства в ячейках
func (si *SpatialIndex[I, T]) CheckRadius() int { return si.checkRadius }

// Dimensions возвращает ширину и высоту сетки в ячейках
func (si *SpatialIndex[I, T]) Dimensions() (int, int) { return si.width, si.height }

// CellOf возвращает координаты ячейки для позиции в мире
func (si *SpatialIndex[I, T]) CellOf(pos vec.Vec2) vec.Vec2 {
	return pos.FloorDiv(si.cellSize)
}

// cellIndex переводит координаты ячейки в индекс массива.
// Ячейки вне сетки индекса не имеют.
func (si *SpatialIndex[I, T]) cellIndex(cell vec.Vec2) (int, bool) {
	x := cell.X - si.topLeft.X
	y := cell.Y - si.topLeft.Y
	if x < 0 || y < 0 || x >= si.width || y >= si.height {
		return 0, false
	}
	return x + y*si.width, true
}

func (si *SpatialIndex[I, T]) posIndex(pos vec.Vec2) (int, bool) {
	return si.cellIndex(si.CellOf(pos))
}

// Insert добавляет запись. Позиция вне прямоугольника молча игнорируется,
// результат сообщает, была ли запись добавлена.
func (si *SpatialIndex[I, T]) Insert(id I, value T, pos vec.Vec2) bool {
	i, ok := si.posIndex(pos)
	if !ok {
		return false
	}
	si.cells[i] = append(si.cells[i], Entry[I, T]{ID: id, Value: value})
	return true
}

// Contains сообщает, попадает ли pos в прямоугольник индекса
func (si *SpatialIndex[I, T]) Contains(pos vec.Vec2) bool {
	_, ok := si.posIndex(pos)
	return ok
}

// Purge удаляет запись id, просматривая все ячейки.
// Нужна, когда текущая позиция записи неизвестна.
func (si *SpatialIndex[I, T]) Purge(id I) (Entry[I, T], bool) {
	for i := range si.cells {
		if e, ok := si.takeFrom(i, id); ok {
			return e, true
		}
	}
	return Entry[I, T]{}, false
}

// Remove удаляет запись из ячейки, содержащей pos
func (si *SpatialIndex[I, T]) Remove(id I, pos vec.Vec2) (Entry[I, T], bool) {
	i, ok := si.posIndex(pos)
	if !ok {
		return Entry[I, T]{}, false
	}
	return si.takeFrom(i, id)
}

func (si *SpatialIndex[I, T]) takeFrom(i int, id I) (Entry[I, T], bool) {
	bucket := si.cells[i]
	for j := range bucket {
		if bucket[j].ID == id {
			e := bucket[j]
			copy(bucket[j:], bucket[j+1:])
			var zero Entry[I, T]
			bucket[len(bucket)-1] = zero
			si.cells[i] = bucket[:len(bucket)-1]
			return e, true
		}
	}
	return Entry[I, T]{}, false
}

// UpdatePos переносит запись из ячейки oldPos в ячейку newPos.
// Если ячейка не меняется, индекс не трогается и возвращается пустая дельта.
// Пустая дельта возвращается и когда одна из ячеек вне сетки или запись не найдена.
func (si *SpatialIndex[I, T]) UpdatePos(id I, oldPos, newPos vec.Vec2) MoveDelta[I] {
	from := si.CellOf(oldPos)
	to := si.CellOf(newPos)
	if from == to {
		return MoveDelta[I]{}
	}

	oldIdx, ok := si.cellIndex(from)
	if !ok {
		return MoveDelta[I]{}
	}
	newIdx, ok := si.cellIndex(to)
	if !ok {
		return MoveDelta[I]{}
	}

	e, ok := si.takeFrom(oldIdx, id)
	if !ok {
		return MoveDelta[I]{}
	}
	si.cells[newIdx] = append(si.cells[newIdx], e)

	return MoveDelta[I]{
		Moved:       true,
		From:        from,
		To:          to,
		CheckRadius: si.checkRadius,
		ExcludeID:   id,
	}
}

// ForEachAdjacent вызывает fn для всех записей в квадрате (2r+1)x(2r+1)
// ячеек вокруг ячейки pos, включая записи самой ячейки.
func (si *SpatialIndex[I, T]) ForEachAdjacent(pos vec.Vec2, fn func(id I, value T)) {
	center := si.CellOf(pos)
	r := si.checkRadius
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			si.ForEachInCell(vec.Vec2{X: center.X + dx, Y: center.Y + dy}, fn)
		}
	}
}

// ForEachInCell вызывает fn для записей одной ячейки. Ячейка вне сетки пуста.
func (si *SpatialIndex[I, T]) ForEachInCell(cell vec.Vec2, fn func(id I, value T)) {
	i, ok := si.cellIndex(cell)
	if !ok {
		return
	}
	for _, e := range si.cells[i] {
		fn(e.ID, e.Value)
	}
}

// ForEachNewlyAdjacent вызывает fn для записей, ставших соседними
// после перемещения, описанного дельтой. Сам переместившийся не посещается.
func (si *SpatialIndex[I, T]) ForEachNewlyAdjacent(d MoveDelta[I], fn func(id I, value T)) {
	d.ForEachCell(func(cell vec.Vec2) {
		si.ForEachInCell(cell, func(id I, value T) {
			if id == d.ExcludeID {
				return
			}
			fn(id, value)
		})
	})
}

// Get возвращает значение записи id из ячейки pos
func (si *SpatialIndex[I, T]) Get(pos vec.Vec2, id I) (T, bool) {
	if p := si.GetMut(pos, id); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

// GetMut возвращает указатель на значение записи для изменения на месте.
// Указатель действителен до следующей вставки или удаления в этой ячейке.
func (si *SpatialIndex[I, T]) GetMut(pos vec.Vec2, id I) *T {
	i, ok := si.posIndex(pos)
	if !ok {
		return nil
	}
	for j := range si.cells[i] {
		if si.cells[i][j].ID == id {
			return &si.cells[i][j].Value
		}
	}
	return nil
}

// Len возвращает количество записей в индексе
func (si *SpatialIndex[I, T]) Len() int {
	n := 0
	for _, b := range si.cells {
		n += len(b)
	}
	return n
}

// cellEntries нужен тестам для проверки содержимого ячеек
func (si *SpatialIndex[I, T]) cellEntries(cell vec.Vec2) []Entry[I, T] {
	i, ok := si.cellIndex(cell)
	if !ok {
		return nil
	}
	return si.cells[i]
}
