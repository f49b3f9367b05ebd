package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// SubscribeToChannel forwards every T to ch for select-loop consumers such as
// SSE handlers. Events are dropped while ch is full so a slow reader never
// stalls the publisher.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return subscribeCounting[T](bus, ch, nil)
}

// RelayEvents forwards every relay-facing event (state, observers, clients,
// depth, warning text) to ch. The returned function unsubscribes all of them
// and reports how many events were dropped.
func RelayEvents(bus *Bus, ch chan<- any) func() uint64 {
	var dropped atomic.Uint64
	unsubs := []func(){
		subscribeCounting[RelayStateChangedEvent](bus, ch, &dropped),
		subscribeCounting[ObserversChangedEvent](bus, ch, &dropped),
		subscribeCounting[ClientChangedEvent](bus, ch, &dropped),
		subscribeCounting[DepthChangedEvent](bus, ch, &dropped),
		subscribeCounting[WarningTextChangedEvent](bus, ch, &dropped),
	}
	return func() uint64 {
		for _, unsub := range unsubs {
			unsub()
		}
		return dropped.Load()
	}
}

func subscribeCounting[T Event](bus *Bus, ch chan<- any, dropped *atomic.Uint64) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			if dropped != nil {
				dropped.Add(1)
			}
		}
	})
}
