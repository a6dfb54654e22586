package queue

import (
	"context"
	"time"

	"PulseIM/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// MsgHandler processes one delivered queue message. A nil return acks
// the message; any error naks it back for redelivery, which is what
// makes the pipeline at-least-once.
type MsgHandler func(ctx context.Context, data []byte, msgID string) error

// Subscribe attaches a durable consumer to subject and processes
// messages strictly one at a time (MaxAckPending=1) to bound ordering
// drift. Blocks until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, subject, durable string, handle MsgHandler) error {
	sub, err := c.js.PullSubscribe(subject, durable,
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxAckPending(1),
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("queue fetch failed", zap.String("subject", subject), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			msgID := m.Header.Get(nats.MsgIdHdr)
			if err := handle(ctx, m.Data, msgID); err != nil {
				logger.Error("queue handler failed, requeueing",
					zap.String("subject", subject), zap.String("msgId", msgID), zap.Error(err))
				_ = m.Nak()
				continue
			}
			if err := m.Ack(); err != nil {
				logger.Warn("queue ack failed", zap.String("subject", subject), zap.Error(err))
			}
		}
	}
}
