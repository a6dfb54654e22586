package gateway

import "PulseIM/service/bus"

// BusAnnouncer forwards presence edge transitions onto the
// cluster-wide event bus so every instance can tell its clients.
type BusAnnouncer struct {
	bus BusEmitter
}

func NewBusAnnouncer(emitter BusEmitter) *BusAnnouncer {
	return &BusAnnouncer{bus: emitter}
}

func (a *BusAnnouncer) UserOnline(userID string) {
	a.bus.Emit(bus.ScopeAll, "", bus.EvUserOnline, presencePayload{UserID: userID})
}

func (a *BusAnnouncer) UserOffline(userID string) {
	a.bus.Emit(bus.ScopeAll, "", bus.EvUserOffline, presencePayload{UserID: userID})
}
