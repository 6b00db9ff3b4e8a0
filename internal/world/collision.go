package world

import (
	"fmt"

	"github.com/annel0/fg-server/internal/vec"
)

// CollisionGrid статическая карта проходимости инстанса.
// Всё, что лежит за пределами сетки, считается непроходимым.
type CollisionGrid struct {
	origin  vec.Vec2
	width   int
	height  int
	blocked []bool
}

// NewCollisionGrid создаёт полностью проходимую сетку
func NewCollisionGrid(origin vec.Vec2, width, height int) *CollisionGrid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &CollisionGrid{
		origin:  origin,
		width:   width,
		height:  height,
		blocked: make([]bool, width*height),
	}
}

// ParseCollisionRows строит сетку из строк, где '#' обозначает стену.
// Все строки должны быть одной длины.
func ParseCollisionRows(origin vec.Vec2, rows []string) (*CollisionGrid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty collision rows", ErrInvalidGrid)
	}
	width := len(rows[0])
	g := NewCollisionGrid(origin, width, len(rows))
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has length %d, expected %d", ErrInvalidGrid, y, len(row), width)
		}
		for x := 0; x < width; x++ {
			if row[x] == '#' {
				g.blocked[x+y*width] = true
			}
		}
	}
	return g, nil
}

func (g *CollisionGrid) index(pos vec.Vec2) (int, bool) {
	x := pos.X - g.origin.X
	y := pos.Y - g.origin.Y
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return 0, false
	}
	return x + y*g.width, true
}

// Blocked сообщает, занята ли клетка
func (g *CollisionGrid) Blocked(pos vec.Vec2) bool {
	i, ok := g.index(pos)
	if !ok {
		return true
	}
	return g.blocked[i]
}

// SetBlocked помечает клетку. Клетки вне сетки игнорируются.
func (g *CollisionGrid) SetBlocked(pos vec.Vec2, blocked bool) {
	if i, ok := g.index(pos); ok {
		g.blocked[i] = blocked
	}
}

// Bounds возвращает левую верхнюю и правую нижнюю клетки (включительно)
func (g *CollisionGrid) Bounds() (vec.Vec2, vec.Vec2) {
	return g.origin, vec.Vec2{X: g.origin.X + g.width - 1, Y: g.origin.Y + g.height - 1}
}
