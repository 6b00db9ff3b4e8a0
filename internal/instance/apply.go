package instance

import (
	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/player"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/vec"
)

// applyEffects применяет эффекты скрипта объекта source, сработавшего
// для соединения netID. Эффекты, относящиеся к исчезнувшему объекту
// или ушедшему игроку, пропускаются.
func (i *Instance) applyEffects(source protocol.EntityID, netID protocol.NetID, effects []Effect) {
	for _, eff := range effects {
		i.applyEffect(source, netID, eff)
	}
}

func (i *Instance) applyEffect(source protocol.EntityID, netID protocol.NetID, eff Effect) {
	switch e := eff.(type) {
	case MoveSelf:
		self, ok := i.entities.Get(source)
		if !ok {
			return
		}
		to := vec.Vec2{X: e.X, Y: e.Y}
		if i.collision.Blocked(to) {
			i.logger.Warn("объект %d не может перейти в стену или за край карты %v", self.ID, to)
			return
		}
		if !i.entities.move(self, to, e.Speed) {
			i.logger.Warn("объект %d не может перейти в занятую клетку %v", self.ID, to)
		}

	case MovePlayer:
		p, ok := i.player(e.NetID)
		if !ok {
			return
		}
		to := vec.Vec2{X: e.X, Y: e.Y}
		if i.collision.Blocked(to) {
			i.logger.Warn("объект %d переносит игрока %d в стену %v", source, p.PID(), to)
			return
		}
		i.relocate(e.NetID, p, to, e.Speed)

	case MovePlayerToMap:
		i.ch.PushGame(eventbus.PlayerJoinInstance{Map: e.Map, X: e.X, Y: e.Y, NetID: e.NetID})

	case GiveItem:
		p, ok := i.player(e.NetID)
		if !ok {
			return
		}
		p.Data.AddItem(e.Item)
		p.TouchPrivate()

	case TakeItem:
		p, ok := i.player(e.NetID)
		if !ok {
			return
		}
		if p.Data.TakeItem(e.ItemID, e.Count) {
			p.TouchPrivate()
		}

	case ChangeGold:
		p, ok := i.player(e.NetID)
		if !ok {
			return
		}
		if p.Data.ChangeGold(e.Delta) {
			p.TouchPrivate()
		} else {
			i.logger.Debug("игроку %d не хватает золота: %d", p.PID(), e.Delta)
		}

	case GrantExperience:
		p, ok := i.player(e.NetID)
		if !ok {
			return
		}
		if p.Data.GrantExperience(e.Skill, e.Amount) > 0 {
			p.TouchPublic()
		} else {
			p.TouchPrivate()
		}

	case ChatBroadcast:
		from := i.entityName(source)
		for _, id := range i.residents {
			i.ch.PushServer(eventbus.PlayerChatMessage{Text: e.Text, From: from, NetID: id})
		}

	case Whisper:
		if !i.Has(e.NetID) {
			return
		}
		i.ch.PushServer(eventbus.PlayerChatMessage{Text: e.Text, From: i.entityName(source), NetID: e.NetID})

	case SetData:
		if self, ok := i.entities.Get(source); ok {
			self.SetData(e.Key, e.Value)
		}

	case DespawnSelf:
		self, ok := i.entities.remove(source)
		if !ok {
			return
		}
		if self.Visible {
			i.index.ForEachAdjacent(self.Pos, func(id protocol.NetID, _ player.Handle) {
				i.ch.PushServer(eventbus.EntityDespawned{EntityID: self.ID, NetID: id})
			})
		}

	case RegisterEntity:
		ent, err := i.RegisterEntity(e.Spec)
		if err != nil {
			i.logger.Warn("объект %d не смог создать объект: %v", source, err)
			return
		}
		ent.changed = true

	case Noop:

	default:
		i.logger.Warn("неизвестный эффект %T от объекта %d", eff, source)
	}
}

func (i *Instance) entityName(id protocol.EntityID) string {
	if e, ok := i.entities.Get(id); ok && e.Name != "" {
		return e.Name
	}
	return "?"
}
