package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"go.uber.org/zap"
)

// TurnSink stores a consumed turn.
type TurnSink interface {
	AppendTurn(turn models.LiveTurn) error
}

// Consume binds an exclusive queue to the exchange and hands every turn to sink
// until ctx is cancelled or the delivery channel closes.
func Consume(ctx context.Context, conn *Conn, sink TurnSink) error {
	if conn == nil {
		return nil
	}
	ch, err := conn.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, "", conn.exchange, false, nil); err != nil {
		return err
	}
	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return err
	}

	log := logger.Base().With(zap.String("queue", q.Name))
	log.Info("waiting for live turns")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				return nil
			}
			handleDelivery(d.Body, sink)
		}
	}
}

func handleDelivery(body []byte, sink TurnSink) {
	var turn models.LiveTurn
	if err := json.Unmarshal(body, &turn); err != nil {
		logger.Base().Warn("dropping malformed live turn", zap.ByteString("body", body), zap.Error(err))
		return
	}
	if err := sink.AppendTurn(turn); err != nil {
		logger.Base().Error("failed to store live turn", zap.String("job_id", turn.JobID), zap.Error(err))
	}
}
