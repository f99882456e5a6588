package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"codesync/internal/metrics"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// Router turns coordinator decisions into frames on the wire.
// Each outbound event is encoded once and the same bytes go to every
// recipient. Delivery never blocks: a recipient whose queue is full or
// whose socket is gone fails alone and the rest still receive the frame.
type Router struct {
	sender  interfaces.Sender
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRouter(sender interfaces.Sender, m *metrics.Metrics, log *slog.Logger) (*Router, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{sender: sender, metrics: m, log: log}, nil
}

// Broadcast delivers event to every recipient except the one named by
// except (pass "" to include all). It returns how many sends were accepted.
func (r *Router) Broadcast(recipients []string, except, event string, payload interface{}) int {
	if except != "" {
		recipients = lo.Without(recipients, except)
	}
	if len(recipients) == 0 {
		return 0
	}

	frame, err := encode(event, payload)
	if err != nil {
		r.log.Error("Dropping broadcast", "event", event, "err", err)
		return 0
	}

	delivered := 0
	for _, socketID := range recipients {
		if err := r.sender.Send(socketID, frame); err != nil {
			r.log.Warn("Failed to deliver frame", "event", event, "socket_id", socketID, "err", err)
			r.metrics.DeliveryFailed(event)
			continue
		}
		delivered++
	}
	r.metrics.Delivered(event, delivered)
	return delivered
}

// Direct delivers event to a single recipient.
func (r *Router) Direct(socketID, event string, payload interface{}) error {
	if socketID == "" {
		return ErrEmptyRecipient
	}

	frame, err := encode(event, payload)
	if err != nil {
		return err
	}

	if err := r.sender.Send(socketID, frame); err != nil {
		r.metrics.DeliveryFailed(event)
		return fmt.Errorf("deliver %s to %s: %w", event, socketID, err)
	}
	r.metrics.Delivered(event, 1)
	return nil
}

func encode(event string, payload interface{}) ([]byte, error) {
	frame, err := json.Marshal(types.OutboundMessage{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodeFailed, event, err)
	}
	return frame, nil
}
