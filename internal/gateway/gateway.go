package gateway

import "context"

// Gateway is the outbound SMS transport port. Implementations return a
// Receipt when the message was accepted and a *GatewayError otherwise.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (*Receipt, error)
}

type SendRequest struct {
	MessageID  string
	Recipient  string
	TemplateID string
}

// Receipt is the delivery report for an accepted message.
type Receipt struct {
	StatusCode       int
	GatewayMessageID string
}
