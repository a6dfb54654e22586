package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	chatmodel "PulseIM/module/chat/model"
	usermodel "PulseIM/module/user/model"
	"PulseIM/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type publishCall struct {
	subject string
	idemKey string
}

type fakeEnqueuer struct {
	fail  bool
	calls []publishCall
}

func (f *fakeEnqueuer) Publish(subject string, _ interface{}, idemKey string) error {
	f.calls = append(f.calls, publishCall{subject: subject, idemKey: idemKey})
	if f.fail {
		return errs.ErrBrokerDown
	}
	return nil
}

type emittedEvent struct {
	scope   string
	target  string
	name    string
	payload interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (f *fakeEmitter) Emit(scope, target, name string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{scope: scope, target: target, name: name, payload: payload})
}

func (f *fakeEmitter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

type fakeConvRepo struct {
	conv        *chatmodel.Conversation
	getErr      error
	directCalls int
	lastUpdated primitive.ObjectID
}

func (f *fakeConvRepo) FindOrCreateDirect(_ context.Context, a, b primitive.ObjectID) (*chatmodel.Conversation, error) {
	f.directCalls++
	if f.conv == nil {
		f.conv = &chatmodel.Conversation{
			ID:           primitive.NewObjectID(),
			Participants: []primitive.ObjectID{a, b},
			Type:         chatmodel.ConvDirect,
		}
	}
	return f.conv, nil
}

func (f *fakeConvRepo) GetForParticipant(_ context.Context, id, userID primitive.ObjectID) (*chatmodel.Conversation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.conv == nil || f.conv.ID != id {
		return nil, mongo.ErrNoDocuments
	}
	return f.conv, nil
}

func (f *fakeConvRepo) UpdateLastMessage(_ context.Context, convID, msgID primitive.ObjectID, _ time.Time) error {
	f.lastUpdated = msgID
	return nil
}

type fakeMsgRepo struct {
	insertErr error
	inserted  []*chatmodel.Message
}

func (f *fakeMsgRepo) Insert(_ context.Context, msg *chatmodel.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	msg.ID = primitive.NewObjectID()
	f.inserted = append(f.inserted, msg)
	return nil
}

type fakeResolver struct{}

func (fakeResolver) Display(_ context.Context, id primitive.ObjectID) usermodel.Display {
	return usermodel.Display{ID: id, Name: "test user"}
}

func newTestPipeline(enq *fakeEnqueuer, emitter *fakeEmitter, convs *fakeConvRepo, msgs *fakeMsgRepo) *Pipeline {
	return NewPipeline(enq, emitter, convs, msgs, fakeResolver{})
}

func TestSendRejectsEmptyContent(t *testing.T) {
	p := newTestPipeline(&fakeEnqueuer{}, &fakeEmitter{}, &fakeConvRepo{}, &fakeMsgRepo{})
	_, _, err := p.Send(context.Background(), primitive.NewObjectID(), SendRequest{
		RecipientID: primitive.NewObjectID().Hex(),
		Content:     "   ",
	})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestSendRequiresExactlyOneTarget(t *testing.T) {
	p := newTestPipeline(&fakeEnqueuer{}, &fakeEmitter{}, &fakeConvRepo{}, &fakeMsgRepo{})
	sender := primitive.NewObjectID()

	_, _, err := p.Send(context.Background(), sender, SendRequest{Content: "hi"})
	assert.True(t, errors.Is(err, errs.ErrValidation), "neither target set")

	_, _, err = p.Send(context.Background(), sender, SendRequest{
		ConversationID: primitive.NewObjectID().Hex(),
		RecipientID:    primitive.NewObjectID().Hex(),
		Content:        "hi",
	})
	assert.True(t, errors.Is(err, errs.ErrValidation), "both targets set")
}

func TestSendQueuePathReturnsProvisional(t *testing.T) {
	enq := &fakeEnqueuer{}
	emitter := &fakeEmitter{}
	convs := &fakeConvRepo{}
	msgs := &fakeMsgRepo{}
	p := newTestPipeline(enq, emitter, convs, msgs)

	sender := primitive.NewObjectID()
	payload, conv, err := p.Send(context.Background(), sender, SendRequest{
		RecipientID: primitive.NewObjectID().Hex(),
		Content:     "hello",
	})
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.True(t, payload.Provisional)
	assert.True(t, strings.HasPrefix(payload.ID, "temp_"))
	assert.Equal(t, payload.ID, payload.TempID)
	assert.NotEmpty(t, payload.IdemKey)
	assert.Empty(t, msgs.inserted, "queue path must not persist synchronously")

	require.Len(t, enq.calls, 1)
	assert.Equal(t, "messages.inbound", enq.calls[0].subject)
	assert.Equal(t, payload.IdemKey, enq.calls[0].idemKey)
	assert.Empty(t, emitter.names(), "canonical fan-out belongs to the consumer")
}

func TestSendFallsBackWhenBrokerDown(t *testing.T) {
	enq := &fakeEnqueuer{fail: true}
	emitter := &fakeEmitter{}
	convs := &fakeConvRepo{}
	msgs := &fakeMsgRepo{}
	p := newTestPipeline(enq, emitter, convs, msgs)

	sender := primitive.NewObjectID()
	payload, _, err := p.Send(context.Background(), sender, SendRequest{
		RecipientID: primitive.NewObjectID().Hex(),
		Content:     "hello",
	})
	require.NoError(t, err)

	assert.False(t, payload.Provisional)
	require.Len(t, msgs.inserted, 1)
	msg := msgs.inserted[0]
	assert.Equal(t, msg.ID.Hex(), payload.ID)
	require.Len(t, msg.ReadBy, 1, "fallback seeds the read list with the sender")
	assert.Equal(t, sender, msg.ReadBy[0].UserID)
	assert.Equal(t, msg.ID, convs.lastUpdated)
	assert.Equal(t, []string{"message_saved"}, emitter.names())
}

func TestSendFallbackPersistFailure(t *testing.T) {
	enq := &fakeEnqueuer{fail: true}
	msgs := &fakeMsgRepo{insertErr: errors.New("db down")}
	p := newTestPipeline(enq, &fakeEmitter{}, &fakeConvRepo{}, msgs)

	_, _, err := p.Send(context.Background(), primitive.NewObjectID(), SendRequest{
		RecipientID: primitive.NewObjectID().Hex(),
		Content:     "hello",
	})
	assert.True(t, errors.Is(err, errs.ErrPersistence))
}

func TestSendDeniesNonParticipant(t *testing.T) {
	convs := &fakeConvRepo{getErr: mongo.ErrNoDocuments}
	p := newTestPipeline(&fakeEnqueuer{}, &fakeEmitter{}, convs, &fakeMsgRepo{})

	_, _, err := p.Send(context.Background(), primitive.NewObjectID(), SendRequest{
		ConversationID: primitive.NewObjectID().Hex(),
		Content:        "hello",
	})
	assert.True(t, errors.Is(err, errs.ErrAccessDenied))
}

func TestStampIdemKeyIsDeterministic(t *testing.T) {
	ts := time.Now()
	a := Envelope{ConversationID: "c1", SenderID: "s1", Content: "hi", Timestamp: ts}
	b := Envelope{ConversationID: "c1", SenderID: "s1", Content: "hi", Timestamp: ts}
	a.StampIdemKey()
	b.StampIdemKey()
	assert.Equal(t, a.IdemKey, b.IdemKey)

	c := Envelope{ConversationID: "c1", SenderID: "s1", Content: "bye", Timestamp: ts}
	c.StampIdemKey()
	assert.NotEqual(t, a.IdemKey, c.IdemKey)
}
