package world

import "github.com/annel0/fg-server/internal/vec"

// MoveDelta описывает смену ячейки записью в SpatialIndex.
// Нулевое значение (Moved == false) означает, что ячейка не сменилась
// и соседство не изменилось.
type MoveDelta[I comparable] struct {
	Moved       bool
	From        vec.Vec2 // ячейка до перемещения
	To          vec.Vec2 // ячейка после перемещения
	CheckRadius int
	ExcludeID   I
}

// ForEachCell вызывает fn для каждой ячейки в радиусе от To,
// которая лежала вне радиуса от From. Ячейки могут быть вне сетки.
func (d MoveDelta[I]) ForEachCell(fn func(cell vec.Vec2)) {
	if !d.Moved {
		return
	}
	r := d.CheckRadius
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			cell := vec.Vec2{X: d.To.X + dx, Y: d.To.Y + dy}
			if cell.Chebyshev(d.From) > r {
				fn(cell)
			}
		}
	}
}

// ForEachNewlyVisible применяет дельту к другому индексу с той же сеткой,
// например к индексу видимых объектов при перемещении игрока.
// Исключение по идентификатору не применяется: типы идентификаторов разные.
func ForEachNewlyVisible[I comparable, J comparable, T any](d MoveDelta[I], other *SpatialIndex[J, T], fn func(id J, value T)) {
	d.ForEachCell(func(cell vec.Vec2) {
		other.ForEachInCell(cell, fn)
	})
}
