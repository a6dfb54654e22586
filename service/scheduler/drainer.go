package scheduler

import (
	"context"
	"sync"
	"time"

	"PulseIM/logger"
	chatmodel "PulseIM/module/chat/model"
	"PulseIM/service/delivery"
	"PulseIM/service/queue"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DuePlanReader yields and flags plan rows ready for hand-off.
type DuePlanReader interface {
	FindDue(ctx context.Context, now time.Time) ([]chatmodel.AutoMessage, error)
	MarkQueued(ctx context.Context, id primitive.ObjectID) error
}

// Enqueuer is the durable queue the drainer hands due messages to.
type Enqueuer interface {
	Publish(subject string, payload interface{}, idemKey string) error
}

// Drainer moves due auto messages onto the delivery queue. A row is
// marked queued only after a successful publish, and one bad row never
// stops the rest of the batch.
type Drainer struct {
	plans DuePlanReader
	enq   Enqueuer
	now   func() time.Time

	running sync.Mutex
}

func NewDrainer(plans DuePlanReader, enq Enqueuer, now func() time.Time) *Drainer {
	if now == nil {
		now = time.Now
	}
	return &Drainer{plans: plans, enq: enq, now: now}
}

// Drain runs one pass. Overlapping passes are skipped rather than
// stacked; the next tick picks up whatever is still due.
func (d *Drainer) Drain(ctx context.Context) (queued int, err error) {
	if !d.running.TryLock() {
		logger.Debug("drain pass still running, skipping tick")
		return 0, nil
	}
	defer d.running.Unlock()

	due, err := d.plans.FindDue(ctx, d.now())
	if err != nil {
		return 0, err
	}
	for _, am := range due {
		env := delivery.AutoEnvelope{
			AutoMessageID: am.ID.Hex(),
			SenderID:      am.SenderID.Hex(),
			ReceiverID:    am.ReceiverID.Hex(),
			Content:       am.Content,
		}
		if err := d.enq.Publish(queue.SubjectAutoSend, &env, env.IdemKey()); err != nil {
			logger.Error("auto message enqueue failed",
				zap.String("autoMessage", am.ID.Hex()), zap.Error(err))
			continue
		}
		if err := d.plans.MarkQueued(ctx, am.ID); err != nil {
			logger.Error("auto message queued-flag update failed",
				zap.String("autoMessage", am.ID.Hex()), zap.Error(err))
			continue
		}
		queued++
	}
	if len(due) > 0 {
		logger.Info("drain pass finished", zap.Int("due", len(due)), zap.Int("queued", queued))
	}
	return queued, nil
}
