package eventbus

// Channel почтовый ящик одного тика: очередь событий для игры и очередь
// событий для транспорта. Не потокобезопасен, им пользуется только
// горутина цикла тиков.
//
// Drain отдаёт накопленную очередь целиком и подставляет пустую, поэтому
// события, добавленные во время обработки, попадут только в следующий Drain.
type Channel struct {
	game   []GameEvent
	server []ServerEvent
}

// NewChannel создаёт пустой канал
func NewChannel() *Channel {
	return &Channel{}
}

// PushGame ставит событие в очередь игры
func (c *Channel) PushGame(ev GameEvent) {
	c.game = append(c.game, ev)
}

// PushServer ставит событие в очередь транспорта
func (c *Channel) PushServer(ev ServerEvent) {
	c.server = append(c.server, ev)
}

// DrainGame забирает все накопленные события игры в порядке добавления
func (c *Channel) DrainGame() []GameEvent {
	out := c.game
	c.game = nil
	return out
}

// DrainServer забирает все накопленные события транспорта в порядке добавления
func (c *Channel) DrainServer() []ServerEvent {
	out := c.server
	c.server = nil
	return out
}

// PendingGame возвращает длину очереди игры
func (c *Channel) PendingGame() int { return len(c.game) }

// PendingServer возвращает длину очереди транспорта
func (c *Channel) PendingServer() int { return len(c.server) }
