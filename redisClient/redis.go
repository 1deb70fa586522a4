package redisClient

import (
	"encoding/json"
	"fmt"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

const activeCallsKey = "calls:active"

func transcriptKey(jobID string) string {
	return "transcript:" + jobID
}

// AppendTurn pushes a live turn onto the job's list.
func (c *Client) AppendTurn(turn models.LiveTurn) error {
	if !c.Enabled() {
		return nil
	}
	if turn.JobID == "" {
		return fmt.Errorf("live turn without job id")
	}
	return c.rc.RPush(transcriptKey(turn.JobID), &turn).Err()
}

// LiveTurns returns the turns recorded so far for a job, oldest first.
// Entries that fail to decode are skipped.
func (c *Client) LiveTurns(jobID string) ([]models.LiveTurn, error) {
	turns := []models.LiveTurn{}
	if !c.Enabled() {
		return turns, nil
	}
	vals, err := c.rc.LRange(transcriptKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		var t models.LiveTurn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			logger.Base().Warn("skipping malformed live turn", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (c *Client) IncrActiveCalls() (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	return c.rc.Incr(activeCallsKey).Result()
}

// DecrActiveCalls decrements the counter without letting it go negative.
func (c *Client) DecrActiveCalls() (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	n, err := c.rc.Decr(activeCallsKey).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		if err := c.rc.Set(activeCallsKey, 0, 0).Err(); err != nil {
			return 0, err
		}
		n = 0
	}
	return n, nil
}

func (c *Client) ActiveCalls() (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	n, err := c.rc.Get(activeCallsKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
