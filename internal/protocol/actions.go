package protocol

// Action действие игрока, не относящееся к перемещению и чату.
// Набор вариантов закрыт: Interaction, FriendInvite, FriendAccept.
type Action interface {
	actionKind() string
}

// Interaction взаимодействие с объектом мира в клетке (X, Y)
type Interaction struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
}

// FriendInvite приглашение в друзья
type FriendInvite struct {
	TargetPID PID `msgpack:"pid"`
}

// FriendAccept принятие приглашения от InviterPID
type FriendAccept struct {
	InviterPID PID `msgpack:"pid"`
}

func (Interaction) actionKind() string  { return ActionInteraction }
func (FriendInvite) actionKind() string { return ActionFriendInvite }
func (FriendAccept) actionKind() string { return ActionFriendAccept }

// Виды действий на проводе
const (
	ActionInteraction  = "interaction"
	ActionFriendInvite = "friend_invite"
	ActionFriendAccept = "friend_accept"
)

// ActionKind возвращает имя варианта действия
func ActionKind(a Action) string { return a.actionKind() }

// Response ответ сервера вне потока перемещений и данных.
// Набор вариантов закрыт.
type Response interface {
	responseKind() string
}

// LoadMap требует от клиента загрузить карту
type LoadMap struct {
	Map string `msgpack:"map"`
}

// FriendInviteReceived уведомляет о входящем приглашении
type FriendInviteReceived struct {
	FromPID  PID    `msgpack:"pid"`
	FromName string `msgpack:"name"`
}

// InviteOutcome результат операции с приглашением
type InviteOutcome string

const (
	InviteSent           InviteOutcome = "sent"
	InviteDuplicate      InviteOutcome = "duplicate"
	InviteNotOnline      InviteOutcome = "not_online"
	InviteAlreadyFriends InviteOutcome = "already_friends"
	InviteAccepted       InviteOutcome = "accepted"
	InviteExpired        InviteOutcome = "expired"
)

// FriendInviteResult сообщает инициатору результат приглашения или принятия
type FriendInviteResult struct {
	PID     PID           `msgpack:"pid"`
	Outcome InviteOutcome `msgpack:"outcome"`
}

// FriendAdded уведомляет о новом друге
type FriendAdded struct {
	PID  PID    `msgpack:"pid"`
	Name string `msgpack:"name"`
}

func (LoadMap) responseKind() string              { return ResponseLoadMap }
func (FriendInviteReceived) responseKind() string { return ResponseInviteReceived }
func (FriendInviteResult) responseKind() string   { return ResponseInviteResult }
func (FriendAdded) responseKind() string          { return ResponseFriendAdded }

// Виды ответов на проводе
const (
	ResponseLoadMap        = "load_map"
	ResponseInviteReceived = "friend_invite_received"
	ResponseInviteResult   = "friend_invite_result"
	ResponseFriendAdded    = "friend_added"
)

// ResponseKind возвращает имя варианта ответа
func ResponseKind(r Response) string { return r.responseKind() }
