package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/splax/previewd/internal/preview"
)

// EventWriter is implemented by subscribers that encode events themselves.
type EventWriter interface {
	WriteEvent(preview.Event) error
}

// Heartbeater is implemented by subscribers that can send keep-alives.
type Heartbeater interface {
	Heartbeat() error
}

// Relay forwards events to sub until the channel closes, ctx ends or a send
// fails. It returns nil once the terminal event has been delivered.
func Relay(ctx context.Context, events <-chan preview.Event, sub Subscriber, heartbeat time.Duration) error {
	var tick <-chan time.Time
	hb, canBeat := sub.(Heartbeater)
	if canBeat && heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := hb.Heartbeat(); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := deliver(sub, e); err != nil {
				return fmt.Errorf("send event: %w", err)
			}
			if e.Terminal() {
				return nil
			}
		}
	}
}

func deliver(sub Subscriber, e preview.Event) error {
	if w, ok := sub.(EventWriter); ok {
		return w.WriteEvent(e)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return sub.Send(payload)
}

// UserObserver broadcasts every event of a session to the hub topic of its
// owner. Encoding failures and full queues drop the event.
func UserObserver(hub *Hub, userID string) preview.Observer {
	return preview.ObserverFunc(func(e preview.Event) {
		if userID == "" {
			return
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return
		}
		hub.Broadcast(userID, payload)
	})
}
