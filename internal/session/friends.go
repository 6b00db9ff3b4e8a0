package session

import (
	"time"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/protocol"
)

func (m *Manager) respond(netID protocol.NetID, r protocol.Response) {
	m.ch.PushServer(eventbus.GenericResponse{Response: r, NetID: netID})
}

func (m *Manager) inviteResult(netID protocol.NetID, pid protocol.PID, outcome protocol.InviteOutcome) {
	m.respond(netID, protocol.FriendInviteResult{PID: pid, Outcome: outcome})
}

// inviteFriend отправляет приглашение от игрока соединения netID игроку target.
// Повторное приглашение, пока первое ждёт ответа, не создаёт нового.
func (m *Manager) inviteFriend(netID protocol.NetID, target protocol.PID) {
	from := m.activeByNet(netID)
	inviter, ok := m.livePlayer(from)
	if !ok {
		return
	}
	fromPID := inviter.PID()
	if target == fromPID {
		m.logger.Warn("игрок %d приглашает сам себя", fromPID)
		return
	}
	if inviter.Data.HasFriend(target) {
		m.inviteResult(netID, target, protocol.InviteAlreadyFriends)
		return
	}
	key := inviteKey{from: fromPID, to: target}
	if _, pending := m.invites[key]; pending {
		m.inviteResult(netID, target, protocol.InviteDuplicate)
		return
	}
	to, ok := m.entries[target]
	if !ok || to.state != Active {
		m.inviteResult(netID, target, protocol.InviteNotOnline)
		return
	}

	m.invites[key] = 0
	m.respond(to.netID, protocol.FriendInviteReceived{FromPID: fromPID, FromName: inviter.Data.Name})
	m.inviteResult(netID, target, protocol.InviteSent)
}

// acceptFriend принимает приглашение от inviterPID. Пропавшее или
// просроченное приглашение даёт ответ expired.
func (m *Manager) acceptFriend(netID protocol.NetID, inviterPID protocol.PID) {
	acc := m.activeByNet(netID)
	accepter, ok := m.livePlayer(acc)
	if !ok {
		return
	}
	key := inviteKey{from: inviterPID, to: accepter.PID()}
	if _, pending := m.invites[key]; !pending {
		m.inviteResult(netID, inviterPID, protocol.InviteExpired)
		return
	}
	delete(m.invites, key)

	inv, ok := m.entries[inviterPID]
	if !ok {
		m.inviteResult(netID, inviterPID, protocol.InviteExpired)
		return
	}

	var inviterName string
	switch inv.state {
	case Active:
		p, ok := m.livePlayer(inv)
		if !ok {
			m.inviteResult(netID, inviterPID, protocol.InviteExpired)
			return
		}
		inviterName = p.Data.Name
		if p.Data.AddFriend(accepter.PID()) {
			p.TouchPrivate()
		}
		m.respond(inv.netID, protocol.FriendAdded{PID: accepter.PID(), Name: accepter.Data.Name})
	case Cached:
		inviterName = inv.record.Name
		// у кешированной записи нет владельца, блокировку не держим
		if inv.record.AddFriend(accepter.PID()) {
			m.save(inviterPID, inv.record, true)
		}
	default:
		m.inviteResult(netID, inviterPID, protocol.InviteExpired)
		return
	}

	if accepter.Data.AddFriend(inviterPID) {
		accepter.TouchPrivate()
	}
	m.respond(netID, protocol.FriendAdded{PID: inviterPID, Name: inviterName})
	m.inviteResult(netID, inviterPID, protocol.InviteAccepted)
}

func (m *Manager) ageInvites(dt time.Duration) {
	for key, age := range m.invites {
		age += dt
		if age > m.cfg.InviteTimeout {
			delete(m.invites, key)
			m.logger.Debug("приглашение %d -> %d истекло", key.from, key.to)
			continue
		}
		m.invites[key] = age
	}
}
