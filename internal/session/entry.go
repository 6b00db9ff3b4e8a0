package session

import (
	"time"

	"github.com/annel0/fg-server/internal/instance"
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
)

// Persistence асинхронное хранилище записей игроков.
// Вызовы не блокируются: результат приходит в игровую очередь
// событиями RecordRetrieved и RecordSaved.
type Persistence interface {
	// Retrieve загружает запись; exclusive захватывает блокировку записи
	Retrieve(pid protocol.PID, exclusive bool)
	// Save сохраняет снимок; unlock снимает блокировку после записи
	Save(pid protocol.PID, data []byte, unlock bool)
}

// State состояние записи игрока в менеджере
type State int

const (
	// Offline записи нет
	Offline State = iota
	// Loading запрошена загрузка
	Loading
	// Active игрок в игре
	Active
	// Cached игрок вышел, запись хранится до истечения таймаута
	Cached
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Loading:
		return "loading"
	case Active:
		return "active"
	case Cached:
		return "cached"
	default:
		return "unknown"
	}
}

// entry запись о игроке. У активной записи данные живут в арене
// по handle, у кешированной в record.
type entry struct {
	state  State
	record *player.Record

	handle player.Handle
	netID  protocol.NetID
	inst   *instance.Instance

	// age у активной записи отсчитывает периодическое сохранение,
	// у кешированной время до вытеснения
	age time.Duration
}

func cachedEntry(rec *player.Record) *entry {
	return &entry{state: Cached, record: rec}
}

type inviteKey struct {
	from, to protocol.PID
}

// Stats снимок счётчиков менеджера
type Stats struct {
	Players   int            `json:"players"`
	Cached    int            `json:"cached"`
	Loading   int            `json:"loading"`
	Instances int            `json:"instances"`
	Invites   int            `json:"invites"`
	Maps      map[string]int `json:"maps"`
}
