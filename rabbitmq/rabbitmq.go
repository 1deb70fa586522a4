// Package rabbitmq fans live conversation turns out over a direct exchange.
package rabbitmq

import (
	"fmt"
	"sync"

	"github.com/AVVKavvk/livekit-caller/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Conn wraps one broker connection. A nil *Conn means the broker is disabled.
type Conn struct {
	conn     *amqp.Connection
	exchange string
	once     sync.Once
}

// Dial connects to url. An empty url disables publishing and returns nil.
func Dial(url, exchange string) (*Conn, error) {
	if url == "" {
		logger.Base().Info("rabbitmq disabled, AMQP_URL not set")
		return nil, nil
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	logger.Base().Info("rabbitmq connected", zap.String("exchange", exchange))
	return &Conn{conn: conn, exchange: exchange}, nil
}

func (c *Conn) Exchange() string { return c.exchange }

func (c *Conn) channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	return ch, nil
}

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}
