package distribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	exchange string
	key      string
	messages []amqp.Publishing
	err      error
}

func (r *recordingPublisher) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if r.err != nil {
		return r.err
	}
	r.exchange = exchange
	r.key = key
	r.messages = append(r.messages, msg)
	return nil
}

func TestDistributePublishesJSON(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	d := NewAMQPDistributor(pub, "daruma.payouts", zaptest.NewLogger(t))
	d.newID = func() string { return "msg-1" }
	d.now = func() time.Time { return time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC) }

	err := d.Distribute(context.Background(), Payout{
		EncounterID: "enc-1",
		ChannelID:   "chan-1",
		Amount:      35,
		Zen:         true,
		Winners:     []Winner{{UserID: "u1", AssetID: "a1"}},
	})
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if pub.exchange != "daruma.payouts" || pub.key != RoutingKey {
		t.Fatalf("published to %s/%s", pub.exchange, pub.key)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.MessageId != "msg-1" || msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("message headers = %+v", msg)
	}

	var decoded Payout
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Amount != 35 || !decoded.Zen || len(decoded.Winners) != 1 || decoded.Winners[0].AssetID != "a1" {
		t.Fatalf("decoded = %+v", decoded)
	}
	if !decoded.IssuedAt.Equal(d.now()) {
		t.Fatalf("issued at = %v", decoded.IssuedAt)
	}
}

func TestDistributeSkipsEmptyPayout(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	d := NewAMQPDistributor(pub, "x", nil)
	if err := d.Distribute(context.Background(), Payout{EncounterID: "e", Amount: 10}); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if err := d.Distribute(context.Background(), Payout{EncounterID: "e", Winners: []Winner{{UserID: "u"}}}); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(pub.messages))
	}
}

func TestDistributeWrapsPublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("channel closed")
	d := NewAMQPDistributor(&recordingPublisher{err: boom}, "x", nil)
	err := d.Distribute(context.Background(), Payout{EncounterID: "e", Amount: 1, Winners: []Winner{{UserID: "u"}}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped publish error", err)
	}
}

func TestDistributeHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := &recordingPublisher{}
	if err := NewAMQPDistributor(pub, "x", nil).Distribute(ctx, Payout{Amount: 1, Winners: []Winner{{}}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if err := NewLogDistributor(nil).Distribute(ctx, Payout{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("log distributor err = %v, want context.Canceled", err)
	}
}

func TestCloseWithoutDialIsNoop(t *testing.T) {
	t.Parallel()

	if err := NewAMQPDistributor(&recordingPublisher{}, "x", nil).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
