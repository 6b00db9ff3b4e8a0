package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Типы клиентских кадров
const (
	MsgAuth       = "auth"
	MsgMove       = "move"
	MsgChat       = "chat"
	MsgPlayerData = "pdata"
	MsgEntityData = "edata"
	MsgAction     = "action"
	MsgJoinMap    = "join_map"
)

// Типы серверных кадров
const (
	MsgAuthOK         = "auth_ok"
	MsgPlayerMove     = "player_move"
	MsgPlayerDataResp = "player_data"
	MsgDisconnect     = "disconnect"
	MsgChatMessage    = "chat"
	MsgEntityMove     = "entity_move"
	MsgEntityDataResp = "entity_data"
	MsgEntityDespawn  = "entity_despawn"
	MsgResponse       = "response"
	MsgError          = "error"
)

// Frame кадр на проводе: тип и полезная нагрузка в msgpack
type Frame struct {
	T string             `msgpack:"t"`
	D msgpack.RawMessage `msgpack:"d,omitempty"`
}

// Tagged вариант закрытого набора (действие или ответ) с именем вида
type Tagged struct {
	Kind string             `msgpack:"k"`
	Data msgpack.RawMessage `msgpack:"d,omitempty"`
}

// AuthMsg первый кадр клиента
type AuthMsg struct {
	Token string `msgpack:"token"`
}

// AuthOKMsg ответ на успешную аутентификацию
type AuthOKMsg struct {
	PID   PID   `msgpack:"pid"`
	NetID NetID `msgpack:"net_id"`
}

// MoveMsg запрос перемещения на соседнюю клетку
type MoveMsg struct {
	X     int `msgpack:"x"`
	Y     int `msgpack:"y"`
	Speed int `msgpack:"speed"`
}

// ChatMsg сообщение в чат; Target == AllPlayers для чата зоны
type ChatMsg struct {
	Text   string `msgpack:"text"`
	Target PID    `msgpack:"target"`
}

// PlayerDataMsg запрос публичных данных игрока
type PlayerDataMsg struct {
	PID PID `msgpack:"pid"`
}

// EntityDataMsg запрос данных объекта мира
type EntityDataMsg struct {
	X        int      `msgpack:"x"`
	Y        int      `msgpack:"y"`
	EntityID EntityID `msgpack:"entity_id"`
}

// JoinMapMsg запрос перехода на другую карту
type JoinMapMsg struct {
	Map string `msgpack:"map"`
	X   int    `msgpack:"x"`
	Y   int    `msgpack:"y"`
}

// ErrorMsg текст ошибки для клиента
type ErrorMsg struct {
	Message string `msgpack:"message"`
}

// Encode упаковывает полезную нагрузку в кадр
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var raw msgpack.RawMessage
	if payload != nil {
		data, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации полезной нагрузки %s: %w", msgType, err)
		}
		raw = data
	}
	data, err := msgpack.Marshal(&Frame{T: msgType, D: raw})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации кадра %s: %w", msgType, err)
	}
	return data, nil
}

// Decode разбирает кадр; полезная нагрузка разбирается отдельно через Payload
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ошибка десериализации кадра: %w", err)
	}
	if f.T == "" {
		return nil, fmt.Errorf("кадр без типа")
	}
	return &f, nil
}

// Payload разбирает полезную нагрузку кадра в v
func (f *Frame) Payload(v interface{}) error {
	if len(f.D) == 0 {
		return fmt.Errorf("кадр %s без полезной нагрузки", f.T)
	}
	if err := msgpack.Unmarshal(f.D, v); err != nil {
		return fmt.Errorf("ошибка десериализации полезной нагрузки %s: %w", f.T, err)
	}
	return nil
}

// EncodeAction упаковывает действие с его видом
func EncodeAction(a Action) (Tagged, error) {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return Tagged{}, fmt.Errorf("ошибка сериализации действия: %w", err)
	}
	return Tagged{Kind: a.actionKind(), Data: data}, nil
}

// DecodeAction восстанавливает действие по виду
func DecodeAction(t Tagged) (Action, error) {
	var (
		a   Action
		err error
	)
	switch t.Kind {
	case ActionInteraction:
		var v Interaction
		err = msgpack.Unmarshal(t.Data, &v)
		a = v
	case ActionFriendInvite:
		var v FriendInvite
		err = msgpack.Unmarshal(t.Data, &v)
		a = v
	case ActionFriendAccept:
		var v FriendAccept
		err = msgpack.Unmarshal(t.Data, &v)
		a = v
	default:
		return nil, fmt.Errorf("неизвестное действие %q", t.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации действия %s: %w", t.Kind, err)
	}
	return a, nil
}

// EncodeResponse упаковывает ответ с его видом
func EncodeResponse(r Response) (Tagged, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return Tagged{}, fmt.Errorf("ошибка сериализации ответа: %w", err)
	}
	return Tagged{Kind: r.responseKind(), Data: data}, nil
}

// DecodeResponse восстанавливает ответ по виду
func DecodeResponse(t Tagged) (Response, error) {
	var (
		r   Response
		err error
	)
	switch t.Kind {
	case ResponseLoadMap:
		var v LoadMap
		err = msgpack.Unmarshal(t.Data, &v)
		r = v
	case ResponseInviteReceived:
		var v FriendInviteReceived
		err = msgpack.Unmarshal(t.Data, &v)
		r = v
	case ResponseInviteResult:
		var v FriendInviteResult
		err = msgpack.Unmarshal(t.Data, &v)
		r = v
	case ResponseFriendAdded:
		var v FriendAdded
		err = msgpack.Unmarshal(t.Data, &v)
		r = v
	default:
		return nil, fmt.Errorf("неизвестный ответ %q", t.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации ответа %s: %w", t.Kind, err)
	}
	return r, nil
}
