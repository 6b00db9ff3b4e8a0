package main

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/protocol"
)

type envelopeFilter struct {
	types   []string
	sources []string
	pids    []protocol.PID
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// match проверяет тип, источник и, для событий player.*, pid
func (f *envelopeFilter) match(ev *eventbus.Envelope) bool {
	if len(f.types) > 0 && !contains(f.types, ev.EventType) {
		return false
	}
	if len(f.sources) > 0 && !contains(f.sources, ev.Source) {
		return false
	}
	if len(f.pids) == 0 {
		return true
	}
	if !strings.HasPrefix(ev.EventType, "player.") {
		return false
	}
	var p eventbus.PlayerLifecycle
	if err := ev.Decode(&p); err != nil {
		return false
	}
	for _, pid := range f.pids {
		if pid == p.PID {
			return true
		}
	}
	return false
}

func decodeEnvelope(data []byte) (*eventbus.Envelope, error) {
	var ev eventbus.Envelope
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// formatEnvelope печатает событие одной строкой
func formatEnvelope(ev *eventbus.Envelope) string {
	id := ev.ID
	if len(id) > 8 {
		id = id[:8]
	}
	head := fmt.Sprintf("%s [%s] %-16s src=%s", ev.Timestamp.Format(timeFormat), id, ev.EventType, ev.Source)

	switch {
	case strings.HasPrefix(ev.EventType, "player."):
		var p eventbus.PlayerLifecycle
		if err := ev.Decode(&p); err == nil {
			line := fmt.Sprintf("%s pid=%d net=%d", head, p.PID, p.NetID)
			if p.Map != "" {
				line += " map=" + p.Map
			}
			if p.Reason != "" {
				line += " reason=" + p.Reason
			}
			return line
		}
	case strings.HasPrefix(ev.EventType, "instance."):
		var in eventbus.InstanceLifecycle
		if err := ev.Decode(&in); err == nil {
			return fmt.Sprintf("%s map=%s", head, in.Map)
		}
	}
	return fmt.Sprintf("%s %dB", head, len(ev.Payload))
}
