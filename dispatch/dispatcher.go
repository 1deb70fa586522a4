// Package dispatch asks LiveKit to start an agent job bound to a fresh room for one phone number.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
)

// StatusRingInitiated is reported for every accepted dispatch.
const StatusRingInitiated = "ring_initiated"

// Client is the slice of the LiveKit agent dispatch API used here.
type Client interface {
	CreateDispatch(ctx context.Context, req *livekit.CreateAgentDispatchRequest) (*livekit.AgentDispatch, error)
}

type sdkClient struct {
	agents *lksdk.AgentDispatchClient
}

func (c sdkClient) CreateDispatch(ctx context.Context, req *livekit.CreateAgentDispatchRequest) (*livekit.AgentDispatch, error) {
	return c.agents.CreateDispatch(ctx, req)
}

type Dispatcher struct {
	client    Client
	agentName string
	timeout   time.Duration
	now       func() time.Time
	suffix    func() string
}

// New builds a dispatcher around client. A nil client means credentials are missing
// and every dispatch fails with a configuration error.
func New(client Client, agentName string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client:    client,
		agentName: agentName,
		timeout:   timeout,
		now:       time.Now,
		suffix:    randomSuffix,
	}
}

// NewFromConfig wires the LiveKit SDK client when credentials are present.
func NewFromConfig(cfg *config.Config) *Dispatcher {
	var client Client
	if cfg.HasLiveKitCredentials() {
		client = sdkClient{agents: lksdk.NewAgentDispatchServiceClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)}
	}
	return New(client, cfg.AgentName, cfg.DispatchTimeout)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// RoomName derives the per-call room name: call-<digits>-<disambiguator>.
func (d *Dispatcher) RoomName(phoneNumber string) string {
	return fmt.Sprintf("call-%s-%s", strings.ReplaceAll(phoneNumber, "+", ""), d.suffix())
}

// Call validates the number and requests one agent job. The returned error carries
// an apperr kind; the result is always populated for HTTP callers.
func (d *Dispatcher) Call(ctx context.Context, phoneNumber string) (models.DispatchResult, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !strings.HasPrefix(phoneNumber, "+") {
		err := apperr.Validation("Phone number must start with '+' and country code.")
		return models.DispatchResult{Success: false, Error: err.Error()}, err
	}
	if d.client == nil {
		err := apperr.Configuration("LiveKit credentials missing in environment variables.")
		return models.DispatchResult{Success: false, Error: err.Error()}, err
	}

	roomName := d.RoomName(phoneNumber)
	metadata, err := json.Marshal(models.DispatchMetadata{PhoneNumber: phoneNumber})
	if err != nil {
		return models.DispatchResult{Success: false, Error: err.Error()}, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	log := logger.Base().With(zap.String("phone_number", phoneNumber), zap.String("room", roomName))
	log.Info("dispatching call")

	dispatch, err := d.client.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		AgentName: d.agentName,
		Room:      roomName,
		Metadata:  string(metadata),
	})
	if err != nil {
		log.Error("dispatch failed", zap.Error(err))
		perr := apperr.Provider("create dispatch", err)
		return models.DispatchResult{Success: false, Error: perr.Error()}, perr
	}

	log.Info("dispatch created", zap.String("dispatch_id", dispatch.GetId()))
	return models.DispatchResult{
		Success:     true,
		DispatchID:  dispatch.GetId(),
		RoomName:    roomName,
		PhoneNumber: phoneNumber,
		Status:      StatusRingInitiated,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}, nil
}
