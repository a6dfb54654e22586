package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"PulseIM/logger"
	chatmodel "PulseIM/module/chat/model"
	usermodel "PulseIM/module/user/model"

	"go.uber.org/zap"
)

// ActiveUserLister yields the users eligible for the daily plan.
type ActiveUserLister interface {
	FindActive(ctx context.Context) ([]usermodel.User, error)
}

// PlanWriter persists a planned batch.
type PlanWriter interface {
	InsertBatch(ctx context.Context, batch []chatmodel.AutoMessage) error
}

// Planner builds tomorrow's batch of auto messages: it shuffles the
// active users, pairs them off and materializes one greeting per pair
// at a random moment of the following day. Randomness and time are
// injected so plans are reproducible under test.
type Planner struct {
	users ActiveUserLister
	plans PlanWriter
	rng   *rand.Rand
	now   func() time.Time
}

func NewPlanner(users ActiveUserLister, plans PlanWriter, rng *rand.Rand, now func() time.Time) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{users: users, plans: plans, rng: rng, now: now}
}

// Plan generates and persists the next day's batch. It returns the
// number of messages planned.
func (p *Planner) Plan(ctx context.Context) (int, error) {
	users, err := p.users.FindActive(ctx)
	if err != nil {
		return 0, err
	}
	if len(users) < 2 {
		logger.Info("auto message plan skipped, not enough active users",
			zap.Int("users", len(users)))
		return 0, nil
	}

	pairs := p.pairUsers(users)
	now := p.now()
	batch := make([]chatmodel.AutoMessage, 0, len(pairs))
	for _, pr := range pairs {
		sendAt := p.randomMomentTomorrow(now)
		batch = append(batch, chatmodel.AutoMessage{
			SenderID:   pr.sender.ID,
			ReceiverID: pr.receiver.ID,
			Content:    greetingFor(sendAt, pr.receiver.Name),
			SendDate:   sendAt,
			IsQueued:   false,
			IsSent:     false,
			CreatedAt:  now,
		})
	}

	if err := p.plans.InsertBatch(ctx, batch); err != nil {
		return 0, err
	}
	logger.Info("auto message plan created",
		zap.Int("messages", len(batch)), zap.Int("users", len(users)))
	return len(batch), nil
}

type pair struct {
	sender   usermodel.User
	receiver usermodel.User
}

// pairUsers shuffles and takes adjacent pairs. With an odd count the
// leftover user replaces the first pair's receiver, so everyone who
// can be covered is covered and nobody gets two messages.
func (p *Planner) pairUsers(users []usermodel.User) []pair {
	shuffled := make([]usermodel.User, len(users))
	copy(shuffled, users)
	p.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	pairs := make([]pair, 0, len(shuffled)/2)
	for i := 0; i+1 < len(shuffled); i += 2 {
		pairs = append(pairs, pair{sender: shuffled[i], receiver: shuffled[i+1]})
	}
	if len(shuffled)%2 == 1 && len(pairs) > 0 {
		pairs[0].receiver = shuffled[len(shuffled)-1]
	}
	return pairs
}

// randomMomentTomorrow picks a uniform hour and minute within the day
// after the plan runs.
func (p *Planner) randomMomentTomorrow(now time.Time) time.Time {
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(),
		p.rng.Intn(24), p.rng.Intn(60), 0, 0, now.Location())
}

// greetingFor picks the salutation by the hour the message will land.
// Early-morning hours fall through to the evening greeting; nobody
// gets wished a good morning at 03:00.
func greetingFor(sendAt time.Time, name string) string {
	h := sendAt.Hour()
	switch {
	case h >= 5 && h < 11:
		return fmt.Sprintf("Good morning, %s!", name)
	case h >= 11 && h < 16:
		return fmt.Sprintf("Good afternoon, %s!", name)
	default:
		return fmt.Sprintf("Good evening, %s!", name)
	}
}
