package worker

import (
	"encoding/json"
	"strings"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/livekit/protocol/livekit"
	"go.uber.org/zap"
)

// ParseJob turns a dispatched job into a CallJob. Metadata that is missing or not
// valid JSON makes the call inbound.
func ParseJob(job *livekit.Job) models.CallJob {
	cj := models.CallJob{
		JobID:    job.GetId(),
		RoomName: job.GetRoom().GetName(),
	}
	cj.PhoneNumber = ParseMetadata(job.GetId(), job.GetMetadata())
	return cj
}

// ParseMetadata extracts phone_number from job metadata.
func ParseMetadata(jobID, metadata string) string {
	if strings.TrimSpace(metadata) == "" {
		return ""
	}
	var md models.DispatchMetadata
	if err := json.Unmarshal([]byte(metadata), &md); err != nil {
		logger.Base().Warn("no valid JSON metadata found, treating as inbound call",
			zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(md.PhoneNumber)
}
