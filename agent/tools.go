package agent

import (
	"context"
	"fmt"

	"github.com/AVVKavvk/livekit-caller/providers"
	"go.uber.org/zap"
)

const transferToolName = "transfer_call"

var transferTool = providers.Tool{
	Name:        transferToolName,
	Description: "Transfer the call to a human support agent or another phone number.",
	Params: []providers.ToolParam{{
		Name:        "destination",
		Description: "Phone number or SIP address to transfer to. Leave empty for the default support line.",
	}},
}

// Transferer moves a SIP participant to another destination.
type Transferer interface {
	Transfer(ctx context.Context, roomName, identity, destination string) error
}

// runTool executes a model tool call. Failures are reported to the model as text.
func (c *Conversation) runTool(ctx context.Context, call providers.ToolCall) string {
	switch call.Name {
	case transferToolName:
		return c.transferCall(ctx, call.StringArg("destination"))
	}
	c.log.Warn("model called unknown tool", zap.String("tool", call.Name))
	return fmt.Sprintf("Error: unknown tool %q.", call.Name)
}

func (c *Conversation) transferCall(ctx context.Context, destination string) string {
	if destination == "" {
		destination = c.opts.DefaultTransferNumber
		if destination == "" {
			return "Error: No default transfer number configured."
		}
	}
	if c.opts.Transferer == nil {
		return "Error executing transfer: transfers are not configured."
	}

	identity := c.callerIdentity()
	if identity == "" {
		c.log.Error("could not determine participant identity for transfer")
		return "Failed to transfer: could not identify the caller."
	}

	c.log.Info("transferring call", zap.String("participant_identity", identity), zap.String("destination", destination))
	if err := c.opts.Transferer.Transfer(ctx, c.roomName, identity, destination); err != nil {
		c.log.Error("transfer failed", zap.Error(err))
		return fmt.Sprintf("Error executing transfer: %v", err)
	}
	return "Transfer initiated successfully."
}

// callerIdentity is sip_<phone> for outbound calls, otherwise the first remote participant.
func (c *Conversation) callerIdentity() string {
	if c.job.Outbound() {
		return c.job.SIPIdentity()
	}
	if c.opts.RemoteIdentities != nil {
		if ids := c.opts.RemoteIdentities(); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}
