// Package distribution hands computed payouts to the token transfer side.
// The game never moves tokens itself; it publishes one payout message per
// finished encounter.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/louisbranch/daruma/internal/platform/logging"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RoutingKey is the routing key payout messages are published under.
const RoutingKey = "payout.issued"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Winner is one paid seat.
type Winner struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`
}

// Payout is the per-winner amount for one encounter.
type Payout struct {
	EncounterID string    `json:"encounter_id"`
	ChannelID   string    `json:"channel_id"`
	Amount      int64     `json:"amount"`
	Zen         bool      `json:"zen"`
	Winners     []Winner  `json:"winners"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Distributor delivers payouts.
type Distributor interface {
	Distribute(ctx context.Context, payout Payout) error
}

// Publisher is the subset of *amqp.Channel used for publishing.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDistributor publishes payouts to a RabbitMQ exchange.
type AMQPDistributor struct {
	publisher Publisher
	exchange  string
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	closers   []func() error
}

// NewAMQPDistributor publishes through an already declared exchange.
func NewAMQPDistributor(publisher Publisher, exchange string, logger *zap.Logger) *AMQPDistributor {
	return &AMQPDistributor{
		publisher: publisher,
		exchange:  exchange,
		logger:    logging.OrNop(logger).Named("distribution"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPDistributor, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	d := NewAMQPDistributor(ch, exchange, logger)
	d.closers = []func() error{ch.Close, conn.Close}
	return d, nil
}

// Distribute publishes payout. Payouts with no winners or a zero amount are
// skipped.
func (d *AMQPDistributor) Distribute(ctx context.Context, payout Payout) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payout.Winners) == 0 || payout.Amount <= 0 {
		d.logger.Debug("skip empty payout", zap.String("encounter_id", payout.EncounterID))
		return nil
	}
	if payout.IssuedAt.IsZero() {
		payout.IssuedAt = d.now().UTC()
	}
	body, err := json.Marshal(payout)
	if err != nil {
		return fmt.Errorf("encode payout: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    d.newID(),
		DeliveryMode: amqp.Persistent,
		Timestamp:    payout.IssuedAt,
		Body:         body,
	}
	if err := d.publisher.Publish(d.exchange, RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish payout %s: %w", payout.EncounterID, err)
	}
	d.logger.Info("payout published",
		zap.String("encounter_id", payout.EncounterID),
		zap.String("channel_id", payout.ChannelID),
		zap.Int64("amount", payout.Amount),
		zap.Int("winners", len(payout.Winners)),
		zap.String("message_id", msg.MessageId),
	)
	return nil
}

// Close releases the channel and connection opened by DialAMQP.
func (d *AMQPDistributor) Close() error {
	var errs []error
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDistributor records payouts in the log only.
type LogDistributor struct {
	logger *zap.Logger
}

// NewLogDistributor returns a Distributor for deployments without a broker.
func NewLogDistributor(logger *zap.Logger) *LogDistributor {
	return &LogDistributor{logger: logging.OrNop(logger).Named("distribution")}
}

// Distribute logs payout.
func (d *LogDistributor) Distribute(ctx context.Context, payout Payout) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info("payout not published: no broker configured",
		zap.String("encounter_id", payout.EncounterID),
		zap.String("channel_id", payout.ChannelID),
		zap.Int64("amount", payout.Amount),
		zap.Int("winners", len(payout.Winners)),
	)
	return nil
}

var (
	_ Distributor = (*AMQPDistributor)(nil)
	_ Distributor = (*LogDistributor)(nil)
)
