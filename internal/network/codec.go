package network

import (
	"fmt"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/protocol"
)

// decodeClientFrame переводит кадр аутентифицированного клиента в игровое событие
func decodeClientFrame(netID protocol.NetID, f *protocol.Frame) (eventbus.GameEvent, error) {
	switch f.T {
	case protocol.MsgMove:
		var m protocol.MoveMsg
		if err := f.Payload(&m); err != nil {
			return nil, err
		}
		return eventbus.PlayerMove{X: m.X, Y: m.Y, Speed: m.Speed, NetID: netID}, nil
	case protocol.MsgChat:
		var m protocol.ChatMsg
		if err := f.Payload(&m); err != nil {
			return nil, err
		}
		if m.Text == "" {
			return nil, fmt.Errorf("пустое сообщение чата")
		}
		return eventbus.PlayerChat{Text: m.Text, TargetPID: m.Target, NetID: netID}, nil
	case protocol.MsgPlayerData:
		var m protocol.PlayerDataMsg
		if err := f.Payload(&m); err != nil {
			return nil, err
		}
		return eventbus.PlayerDataRequest{PID: m.PID, NetID: netID}, nil
	case protocol.MsgEntityData:
		var m protocol.EntityDataMsg
		if err := f.Payload(&m); err != nil {
			return nil, err
		}
		return eventbus.EntityDataRequest{X: m.X, Y: m.Y, EntityID: m.EntityID, NetID: netID}, nil
	case protocol.MsgAction:
		var t protocol.Tagged
		if err := f.Payload(&t); err != nil {
			return nil, err
		}
		a, err := protocol.DecodeAction(t)
		if err != nil {
			return nil, err
		}
		return eventbus.PlayerAction{Action: a, NetID: netID}, nil
	case protocol.MsgJoinMap:
		var m protocol.JoinMapMsg
		if err := f.Payload(&m); err != nil {
			return nil, err
		}
		return eventbus.PlayerJoinInstance{Map: m.Map, X: m.X, Y: m.Y, NetID: netID}, nil
	default:
		return nil, fmt.Errorf("неизвестный тип кадра %q", f.T)
	}
}

// encodeServerEvent упаковывает серверное событие в кадр клиента
func encodeServerEvent(ev eventbus.ServerEvent) ([]byte, error) {
	switch e := ev.(type) {
	case eventbus.PlayerMoveResponse:
		return protocol.Encode(protocol.MsgPlayerMove, e)
	case eventbus.PlayerDataResponse:
		return protocol.Encode(protocol.MsgPlayerDataResp, e)
	case eventbus.PlayerChatMessage:
		return protocol.Encode(protocol.MsgChatMessage, e)
	case eventbus.EntityMoveResponse:
		return protocol.Encode(protocol.MsgEntityMove, e)
	case eventbus.EntityDataResponse:
		return protocol.Encode(protocol.MsgEntityDataResp, e)
	case eventbus.EntityDespawned:
		return protocol.Encode(protocol.MsgEntityDespawn, e)
	case eventbus.GenericResponse:
		t, err := protocol.EncodeResponse(e.Response)
		if err != nil {
			return nil, err
		}
		return protocol.Encode(protocol.MsgResponse, t)
	case eventbus.PlayerForceDisconnect:
		return protocol.Encode(protocol.MsgDisconnect, nil)
	default:
		return nil, fmt.Errorf("неизвестное серверное событие %T", ev)
	}
}
