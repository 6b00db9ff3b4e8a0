package instance

import (
	"fmt"
	"strconv"

	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
	"github.com/annel0/fg-server/internal/world"
)

// Trigger контекст срабатывания скрипта. Скрипт не меняет мир напрямую,
// а возвращает эффекты.
type Trigger struct {
	Self     *Entity
	NetID    protocol.NetID
	Player   *player.Record // nil для OnTick
	Tick     uint64
	Occupied func(pos vec.Vec2) bool
}

// Script поведение объекта мира
type Script interface {
	OnWalk(t Trigger) []Effect
	OnInteract(t Trigger) []Effect
	OnTick(t Trigger) []Effect
}

// BaseScript скрипт без поведения; встраивается в остальные скрипты
type BaseScript struct{}

func (BaseScript) OnWalk(Trigger) []Effect     { return nil }
func (BaseScript) OnInteract(Trigger) []Effect { return nil }
func (BaseScript) OnTick(Trigger) []Effect     { return nil }

// ScriptFactory создаёт скрипт по описанию объекта
type ScriptFactory func(spec world.EntitySpec) (Script, error)

// Scripts реестр фабрик скриптов по имени
type Scripts map[string]ScriptFactory

// DefaultScripts встроенные скрипты
func DefaultScripts() Scripts {
	return Scripts{
		"teleport":  newTeleport,
		"give_item": newGiveItem,
		"sign":      newSign,
		"trainer":   newTrainer,
		"gold":      newGoldPile,
		"spawner":   newSpawner,
		"patrol":    newPatrol,
		"vanish":    newVanish,
	}
}

// Build создаёт скрипт для объекта; пустое имя даёт BaseScript
func (s Scripts) Build(spec world.EntitySpec) (Script, error) {
	if spec.Script == "" {
		return BaseScript{}, nil
	}
	f, ok := s[spec.Script]
	if !ok {
		return nil, fmt.Errorf("неизвестный скрипт %q у объекта %s", spec.Script, spec.Name)
	}
	return f(spec)
}

func intParam(spec world.EntitySpec, key string, def int) (int, error) {
	v, ok := spec.Params[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("объект %s: параметр %s: %w", spec.Name, key, err)
	}
	return n, nil
}

// teleport переносит наступившего игрока на карту map в (x, y)
// или в (x, y) текущей карты, если map не задан
type teleport struct {
	BaseScript
	mapName string
	to      vec.Vec2
}

func newTeleport(spec world.EntitySpec) (Script, error) {
	x, err := intParam(spec, "x", 0)
	if err != nil {
		return nil, err
	}
	y, err := intParam(spec, "y", 0)
	if err != nil {
		return nil, err
	}
	return &teleport{mapName: spec.Params["map"], to: vec.Vec2{X: x, Y: y}}, nil
}

func (s *teleport) OnWalk(t Trigger) []Effect {
	if s.mapName == "" {
		return []Effect{MovePlayer{NetID: t.NetID, X: s.to.X, Y: s.to.Y}}
	}
	return []Effect{MovePlayerToMap{Map: s.mapName, X: s.to.X, Y: s.to.Y, NetID: t.NetID}}
}

// giveItem выдаёт предмет при взаимодействии
type giveItem struct {
	BaseScript
	item player.Item
}

func newGiveItem(spec world.EntitySpec) (Script, error) {
	count, err := intParam(spec, "count", 1)
	if err != nil {
		return nil, err
	}
	id := spec.Params["id"]
	if id == "" {
		return nil, fmt.Errorf("объект %s: не задан id предмета", spec.Name)
	}
	return &giveItem{item: player.Item{
		ID:          id,
		Name:        spec.Params["name"],
		Description: spec.Params["description"],
		Stackable:   spec.Params["stackable"] == "true",
		Count:       int32(count),
	}}, nil
}

func (s *giveItem) OnInteract(t Trigger) []Effect {
	name := s.item.Name
	if name == "" {
		name = s.item.ID
	}
	return []Effect{
		GiveItem{NetID: t.NetID, Item: s.item},
		Whisper{NetID: t.NetID, Text: fmt.Sprintf("Получено: %s x%d", name, s.item.Count)},
	}
}

// sign показывает текст при взаимодействии
type sign struct {
	BaseScript
	text string
}

func newSign(spec world.EntitySpec) (Script, error) {
	return &sign{text: spec.Params["text"]}, nil
}

func (s *sign) OnInteract(t Trigger) []Effect {
	return []Effect{Whisper{NetID: t.NetID, Text: s.text}}
}

// trainer продаёт опыт навыка за золото
type trainer struct {
	BaseScript
	skill  player.Skill
	amount int32
	cost   int64
}

func newTrainer(spec world.EntitySpec) (Script, error) {
	skill, ok := player.ParseSkill(spec.Params["skill"])
	if !ok {
		return nil, fmt.Errorf("объект %s: неизвестный навык %q", spec.Name, spec.Params["skill"])
	}
	amount, err := intParam(spec, "amount", 100)
	if err != nil {
		return nil, err
	}
	cost, err := intParam(spec, "cost", 0)
	if err != nil {
		return nil, err
	}
	return &trainer{skill: skill, amount: int32(amount), cost: int64(cost)}, nil
}

func (s *trainer) OnInteract(t Trigger) []Effect {
	if t.Player == nil || t.Player.Gold < s.cost {
		return []Effect{Whisper{NetID: t.NetID, Text: fmt.Sprintf("Нужно %d золота", s.cost)}}
	}
	effects := []Effect{}
	if s.cost > 0 {
		effects = append(effects, ChangeGold{NetID: t.NetID, Delta: -s.cost})
	}
	return append(effects, GrantExperience{NetID: t.NetID, Skill: s.skill, Amount: s.amount})
}

// goldPile отдаёт золото наступившему и исчезает
type goldPile struct {
	BaseScript
	amount int64
}

func newGoldPile(spec world.EntitySpec) (Script, error) {
	amount, err := intParam(spec, "amount", 1)
	if err != nil {
		return nil, err
	}
	return &goldPile{amount: int64(amount)}, nil
}

func (s *goldPile) OnWalk(t Trigger) []Effect {
	return []Effect{ChangeGold{NetID: t.NetID, Delta: s.amount}, DespawnSelf{}}
}

// spawner раз в interval тиков создаёт объект со скриптом child в клетке
// со смещением (dx, dy), если клетка свободна
type spawner struct {
	BaseScript
	interval uint64
	offset   vec.Vec2
	child    world.EntitySpec
}

func newSpawner(spec world.EntitySpec) (Script, error) {
	interval, err := intParam(spec, "interval", 100)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("объект %s: interval должен быть положительным", spec.Name)
	}
	dx, err := intParam(spec, "dx", 1)
	if err != nil {
		return nil, err
	}
	dy, err := intParam(spec, "dy", 0)
	if err != nil {
		return nil, err
	}
	child := world.EntitySpec{
		Name:     spec.Params["child_name"],
		Walkable: true,
		Visible:  true,
		Scene:    spec.Params["child_scene"],
		Script:   spec.Params["child_script"],
		Params:   map[string]string{"amount": spec.Params["child_amount"]},
	}
	return &spawner{interval: uint64(interval), offset: vec.Vec2{X: dx, Y: dy}, child: child}, nil
}

func (s *spawner) OnTick(t Trigger) []Effect {
	if t.Tick%s.interval != 0 {
		return nil
	}
	at := t.Self.Pos.Add(s.offset)
	if t.Occupied != nil && t.Occupied(at) {
		return nil
	}
	child := s.child
	child.Pos = at
	return []Effect{RegisterEntity{Spec: child}}
}

// patrol раз в interval тиков ходит между стартовой клеткой и смещением (dx, dy)
type patrol struct {
	BaseScript
	interval uint64
	home     vec.Vec2
	away     vec.Vec2
}

func newPatrol(spec world.EntitySpec) (Script, error) {
	interval, err := intParam(spec, "interval", 20)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("объект %s: interval должен быть положительным", spec.Name)
	}
	dx, err := intParam(spec, "dx", 1)
	if err != nil {
		return nil, err
	}
	dy, err := intParam(spec, "dy", 0)
	if err != nil {
		return nil, err
	}
	return &patrol{interval: uint64(interval), home: spec.Pos, away: spec.Pos.Add(vec.Vec2{X: dx, Y: dy})}, nil
}

func (s *patrol) OnTick(t Trigger) []Effect {
	if t.Tick%s.interval != 0 {
		return nil
	}
	to := s.away
	if t.Self.Pos == s.away {
		to = s.home
	}
	return []Effect{MoveSelf{X: to.X, Y: to.Y, Speed: int(s.interval)}}
}

// vanish исчезает после взаимодействия и сообщает об этом всем
type vanish struct {
	BaseScript
	text string
}

func newVanish(spec world.EntitySpec) (Script, error) {
	return &vanish{text: spec.Params["text"]}, nil
}

func (s *vanish) OnInteract(t Trigger) []Effect {
	if s.text == "" {
		return []Effect{DespawnSelf{}}
	}
	return []Effect{ChatBroadcast{Text: s.text}, DespawnSelf{}}
}
