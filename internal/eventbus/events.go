package eventbus

import (
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
)

// GameEvent событие, которое обрабатывает игровая логика.
// Набор вариантов закрыт.
type GameEvent interface {
	gameEvent()
}

// PlayerMove запрос шага от клиента
type PlayerMove struct {
	X, Y  int
	Speed int
	NetID protocol.NetID
}

// PlayerJoined соединение прошло аутентификацию как игрок PID
type PlayerJoined struct {
	NetID protocol.NetID
	PID   protocol.PID
}

// PlayerDisconnected соединение закрыто
type PlayerDisconnected struct {
	NetID protocol.NetID
}

// PlayerJoinInstance перевод игрока на карту Map в клетку (X, Y)
type PlayerJoinInstance struct {
	Map   string
	X, Y  int
	NetID protocol.NetID
}

// PlayerChat сообщение в чат; TargetPID == protocol.AllPlayers для чата зоны
type PlayerChat struct {
	Text      string
	TargetPID protocol.PID
	NetID     protocol.NetID
}

// PlayerDM личное сообщение, которое нужно доставить по PID
type PlayerDM struct {
	Text      string
	From      string
	FromPID   protocol.PID
	TargetPID protocol.PID
}

// PlayerAction прочее действие игрока
type PlayerAction struct {
	Action protocol.Action
	NetID  protocol.NetID
}

// PlayerDataRequest запрос публичных данных игрока PID
type PlayerDataRequest struct {
	PID   protocol.PID
	NetID protocol.NetID
}

// EntityDataRequest запрос данных объекта мира
type EntityDataRequest struct {
	X, Y     int
	EntityID protocol.EntityID
	NetID    protocol.NetID
}

// RecordRetrieved завершение асинхронной загрузки данных игрока.
// Found == false без ошибки означает, что игрок новый.
type RecordRetrieved struct {
	PID   protocol.PID
	Data  []byte
	Found bool
	Err   error
}

// RecordSaved завершение асинхронного сохранения
type RecordSaved struct {
	PID      protocol.PID
	Unlocked bool
	Err      error
}

// ShutdownRequested просьба завершить работу
type ShutdownRequested struct{}

func (PlayerMove) gameEvent()         {}
func (PlayerJoined) gameEvent()       {}
func (PlayerDisconnected) gameEvent() {}
func (PlayerJoinInstance) gameEvent() {}
func (PlayerChat) gameEvent()         {}
func (PlayerDM) gameEvent()           {}
func (PlayerAction) gameEvent()       {}
func (PlayerDataRequest) gameEvent()  {}
func (EntityDataRequest) gameEvent()  {}
func (RecordRetrieved) gameEvent()    {}
func (RecordSaved) gameEvent()        {}
func (ShutdownRequested) gameEvent()  {}

// ServerEvent событие для отправки клиенту Target().
// Набор вариантов закрыт.
type ServerEvent interface {
	Target() protocol.NetID
	serverEvent()
}

// PlayerMoveResponse позиция игрока PID
type PlayerMoveResponse struct {
	X           int            `msgpack:"x"`
	Y           int            `msgpack:"y"`
	Speed       int            `msgpack:"speed"`
	PID         protocol.PID   `msgpack:"pid"`
	DataVersion uint32         `msgpack:"data_version"`
	NetID       protocol.NetID `msgpack:"-"`
}

// PlayerDataResponse данные игрока; Private == true для полной записи владельцу
type PlayerDataResponse struct {
	Data    *player.Record `msgpack:"data"`
	Private bool           `msgpack:"private"`
	NetID   protocol.NetID `msgpack:"-"`
}

// PlayerForceDisconnect требование закрыть соединение
type PlayerForceDisconnect struct {
	NetID protocol.NetID `msgpack:"-"`
}

// PlayerChatMessage сообщение чата; пустой From означает системный текст
type PlayerChatMessage struct {
	Text    string         `msgpack:"text"`
	From    string         `msgpack:"from"`
	FromPID protocol.PID   `msgpack:"from_pid"`
	IsDM    bool           `msgpack:"is_dm"`
	NetID   protocol.NetID `msgpack:"-"`
}

// EntityMoveResponse позиция объекта мира
type EntityMoveResponse struct {
	X           int               `msgpack:"x"`
	Y           int               `msgpack:"y"`
	Speed       int               `msgpack:"speed"`
	EntityID    protocol.EntityID `msgpack:"entity_id"`
	DataVersion uint32            `msgpack:"data_version"`
	NetID       protocol.NetID    `msgpack:"-"`
}

// EntityDataResponse данные объекта мира; пустой Data значит, что объекта нет
type EntityDataResponse struct {
	Interactable bool              `msgpack:"interactable"`
	Walkable     bool              `msgpack:"walkable"`
	Scene        string            `msgpack:"scene"`
	Data         map[string]string `msgpack:"data"`
	EntityID     protocol.EntityID `msgpack:"entity_id"`
	NetID        protocol.NetID    `msgpack:"-"`
}

// EntityDespawned объект мира исчез
type EntityDespawned struct {
	EntityID protocol.EntityID `msgpack:"entity_id"`
	NetID    protocol.NetID    `msgpack:"-"`
}

// GenericResponse прочий ответ сервера
type GenericResponse struct {
	Response protocol.Response `msgpack:"-"`
	NetID    protocol.NetID    `msgpack:"-"`
}

func (e PlayerMoveResponse) Target() protocol.NetID    { return e.NetID }
func (e PlayerDataResponse) Target() protocol.NetID    { return e.NetID }
func (e PlayerForceDisconnect) Target() protocol.NetID { return e.NetID }
func (e PlayerChatMessage) Target() protocol.NetID     { return e.NetID }
func (e EntityMoveResponse) Target() protocol.NetID    { return e.NetID }
func (e EntityDataResponse) Target() protocol.NetID    { return e.NetID }
func (e EntityDespawned) Target() protocol.NetID       { return e.NetID }
func (e GenericResponse) Target() protocol.NetID       { return e.NetID }

func (PlayerMoveResponse) serverEvent()    {}
func (PlayerDataResponse) serverEvent()    {}
func (PlayerForceDisconnect) serverEvent() {}
func (PlayerChatMessage) serverEvent()     {}
func (EntityMoveResponse) serverEvent()    {}
func (EntityDataResponse) serverEvent()    {}
func (EntityDespawned) serverEvent()       {}
func (GenericResponse) serverEvent()       {}
