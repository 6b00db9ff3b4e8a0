package vec

// Vec2 представляет 2D координаты на целочисленной сетке
type Vec2 struct {
	X, Y int
}

// New создаёт вектор из пары координат
func New(x, y int) Vec2 {
	return Vec2{X: x, Y: y}
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// FloorDiv делит обе координаты на d с округлением вниз (евклидово деление).
// (-9, -16) / 8 = (-2, -2), а не (-1, -2) как при усечении.
func (v Vec2) FloorDiv(d int) Vec2 {
	return Vec2{X: FloorDiv(v.X, d), Y: FloorDiv(v.Y, d)}
}

// Chebyshev возвращает расстояние Чебышёва (максимум из |dx|, |dy|)
func (v Vec2) Chebyshev(other Vec2) int {
	dx := abs(v.X - other.X)
	dy := abs(v.Y - other.Y)
	if dx > dy {
		return dx
	}
	return dy
}

// FloorDiv делит a на положительный d с округлением к минус бесконечности
func FloorDiv(a, d int) int {
	q := a / d
	if (a%d != 0) && ((a < 0) != (d < 0)) {
		q--
	}
	return q
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
