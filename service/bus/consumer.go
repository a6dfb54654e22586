package bus

import (
	"context"
	"encoding/json"

	"PulseIM/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Handler receives every event seen on the bus. Delivery targeting is
// the subscriber's concern.
type Handler func(ev Event)

type groupHandler struct {
	handle Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Warn("bus event decode failed",
				zap.String("topic", msg.Topic), zap.Error(err))
		} else {
			h.handle(ev)
		}
		// Bus events are realtime fan-out only; a lost event is a lost
		// ephemeral display, never a lost message. Mark unconditionally.
		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume joins the bus under groupID and dispatches every event to
// handle until ctx is cancelled. Each gateway instance uses a unique
// group id so all instances receive all events.
func Consume(ctx context.Context, brokers []string, groupID string, topics []string, handle Handler) error {
	group, err := sarama.NewConsumerGroup(brokers, groupID, baseConfig())
	if err != nil {
		return err
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.Error("bus consumer group error", zap.Error(err))
		}
	}()

	h := &groupHandler{handle: handle}
	for {
		if err := group.Consume(ctx, topics, h); err != nil {
			logger.Error("bus consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
