// Package sipcall places and transfers the SIP leg of a call through the LiveKit SIP API.
package sipcall

import (
	"context"
	"fmt"
	"strings"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
)

// Client is the slice of the LiveKit SIP API used here.
type Client interface {
	CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error)
	TransferSIPParticipant(ctx context.Context, req *livekit.TransferSIPParticipantRequest) error
}

type sdkClient struct {
	sip *lksdk.SIPClient
}

func (c sdkClient) CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error) {
	return c.sip.CreateSIPParticipant(ctx, req)
}

func (c sdkClient) TransferSIPParticipant(ctx context.Context, req *livekit.TransferSIPParticipantRequest) error {
	_, err := c.sip.TransferSIPParticipant(ctx, req)
	return err
}

type Dialer struct {
	client    Client
	trunkID   string
	sipDomain string
}

func New(client Client, trunkID, sipDomain string) *Dialer {
	return &Dialer{client: client, trunkID: trunkID, sipDomain: sipDomain}
}

func NewFromConfig(cfg *config.Config) *Dialer {
	var client Client
	if cfg.HasLiveKitCredentials() {
		client = sdkClient{sip: lksdk.NewSIPClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)}
	}
	return New(client, cfg.OutboundTrunkID, cfg.SIPDomain)
}

// PlaceCall dials phoneNumber into roomName and returns once the callee answers.
func (d *Dialer) PlaceCall(ctx context.Context, roomName, phoneNumber, identity string) error {
	if d.client == nil {
		return apperr.Configuration("LiveKit credentials missing in environment variables.")
	}
	if d.trunkID == "" {
		return apperr.Configuration("OUTBOUND_TRUNK_ID is not set.")
	}
	info, err := d.client.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          d.trunkID,
		SipCallTo:           phoneNumber,
		RoomName:            roomName,
		ParticipantIdentity: identity,
		WaitUntilAnswered:   true,
	})
	if err != nil {
		return apperr.Provider("create sip participant", err)
	}
	logger.Base().Info("sip participant joined",
		zap.String("room", roomName),
		zap.String("participant_identity", info.GetParticipantIdentity()),
		zap.String("sip_call_id", info.GetSipCallId()))
	return nil
}

// Transfer moves the SIP participant identity in roomName to destination.
func (d *Dialer) Transfer(ctx context.Context, roomName, identity, destination string) error {
	if d.client == nil {
		return apperr.Configuration("LiveKit credentials missing in environment variables.")
	}
	target := NormalizeTransferTarget(destination, d.sipDomain)
	logger.Base().Info("transferring participant",
		zap.String("room", roomName),
		zap.String("participant_identity", identity),
		zap.String("transfer_to", target))
	err := d.client.TransferSIPParticipant(ctx, &livekit.TransferSIPParticipantRequest{
		RoomName:            roomName,
		ParticipantIdentity: identity,
		TransferTo:          target,
		PlayDialtone:        false,
	})
	if err != nil {
		return apperr.Provider("transfer sip participant", err)
	}
	return nil
}

// NormalizeTransferTarget turns a bare number or address into a SIP or tel URI.
//
//	"+15551234567", domain "sip.example.com" -> "sip:+15551234567@sip.example.com"
//	"+15551234567", no domain              -> "tel:+15551234567"
//	"agent@pbx.example.com"                -> "sip:agent@pbx.example.com"
func NormalizeTransferTarget(destination, sipDomain string) string {
	destination = strings.TrimSpace(destination)
	if !strings.Contains(destination, "@") {
		if sipDomain != "" {
			clean := strings.ReplaceAll(strings.ReplaceAll(destination, "tel:", ""), "sip:", "")
			return fmt.Sprintf("sip:%s@%s", clean, sipDomain)
		}
		if strings.HasPrefix(destination, "tel:") || strings.HasPrefix(destination, "sip:") {
			return destination
		}
		return "tel:" + destination
	}
	if !strings.HasPrefix(destination, "sip:") {
		return "sip:" + destination
	}
	return destination
}
