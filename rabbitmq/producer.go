package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Producer publishes live turns on a single long-lived channel.
type Producer struct {
	conn *Conn
	mu   sync.Mutex
	ch   *amqp.Channel
}

func NewProducer(conn *Conn) *Producer {
	return &Producer{conn: conn}
}

// Publish sends one turn. It is a no-op when the broker is disabled.
func (p *Producer) Publish(ctx context.Context, turn models.LiveTurn) error {
	if p == nil || p.conn == nil {
		return nil
	}
	body, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode live turn: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.channel()
		if err != nil {
			return err
		}
		p.ch = ch
	}
	err = p.ch.PublishWithContext(ctx, p.conn.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish live turn: %w", err)
	}
	logger.Base().Debug("live turn sent", zap.String("job_id", turn.JobID), zap.String("role", turn.Role))
	return nil
}

// Hook adapts the producer to a fire-and-forget turn callback.
func (p *Producer) Hook(ctx context.Context) func(models.LiveTurn) {
	return func(turn models.LiveTurn) {
		if err := p.Publish(ctx, turn); err != nil {
			logger.Base().Warn("failed to publish live turn", zap.String("job_id", turn.JobID), zap.Error(err))
		}
	}
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		err := p.ch.Close()
		p.ch = nil
		return err
	}
	return nil
}
