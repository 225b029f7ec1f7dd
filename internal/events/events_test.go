package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsAllHandlersAndJoinsErrors(t *testing.T) {
	d := NewInMemoryDispatcher()
	calls := 0
	d.Subscribe(EventEscalate, func(context.Context, Event) error {
		calls++
		return errors.New("first failed")
	})
	d.Subscribe(EventEscalate, func(context.Context, Event) error {
		calls++
		return nil
	})
	d.Subscribe(EventResponded, func(context.Context, Event) error {
		t.Fatal("handler for another type must not run")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventEscalate})
	assert.EqualError(t, err, "first failed")
	assert.Equal(t, 2, calls)
}

func TestRecorder_KeepsEventsAndForwards(t *testing.T) {
	r := NewRecorder()
	forwarded := 0
	r.Subscribe(EventResponded, func(context.Context, Event) error {
		forwarded++
		return nil
	})

	require.NoError(t, r.Publish(context.Background(), Event{Type: EventResponded, TicketID: "t1"}))
	require.NoError(t, r.Publish(context.Background(), Event{Type: EventEscalate, TicketID: "t1"}))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(EventEscalate), 1)
	assert.Equal(t, 1, forwarded)
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func TestRedisStreamSink_WritesEnvelope(t *testing.T) {
	fs := &fakeStream{}
	sink := NewRedisStreamSink(fs, "support:events", 500, nil)
	d := NewInMemoryDispatcher()
	sink.Attach(d)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := d.Publish(context.Background(), Event{
		ID:        "evt-1",
		Type:      EventEscalate,
		TicketID:  "t-9",
		UserID:    42,
		Timestamp: ts,
		Payload:   EscalatePayload{Reason: "attempts exhausted", Attempts: 2, Context: []ContextLine{
			{Role: "user", Text: "printer jammed again", At: ts.Add(-time.Minute)},
		}},
	})
	require.NoError(t, err)
	require.Len(t, fs.args, 1)

	a := fs.args[0]
	assert.Equal(t, "support:events", a.Stream)
	assert.Equal(t, int64(500), a.MaxLen)
	assert.True(t, a.Approx)

	values := a.Values.(map[string]interface{})
	assert.Equal(t, "ESCALATE", values["type"])
	assert.Equal(t, "t-9", values["ticket_id"])
	assert.Equal(t, "42", values["user_id"])
	assert.Equal(t, ts.UnixMilli(), values["timestamp"])

	var payload EscalatePayload
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &payload))
	assert.Equal(t, "attempts exhausted", payload.Reason)
	require.Len(t, payload.Context, 1)
	assert.Equal(t, "printer jammed again", payload.Context[0].Text)
	assert.True(t, payload.Context[0].At.Equal(ts.Add(-time.Minute)))
}

func TestRedisStreamSink_PropagatesErrors(t *testing.T) {
	fs := &fakeStream{err: errors.New("connection refused")}
	sink := NewRedisStreamSink(fs, "s", 0, nil)

	err := sink.Handle(context.Background(), Event{Type: EventRateLimited, Payload: RateLimitedPayload{Action: "ai_request"}})
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, int64(0), fs.args[0].MaxLen)
}
