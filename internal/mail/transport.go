package mail

import (
	"context"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
)

// Message is the final personalized email handed to the transport.
type Message struct {
	To          string
	From        string
	Subject     string
	HTML        string
	Headers     map[string]string
	InlineParts []assets.InlineAsset
	Attachments []assets.Attachment
}

// Outcome is the transport's verdict for one message.
type Outcome struct {
	OK           bool
	MessageID    string
	ErrorCode    string
	ErrorMessage string
}

// Transport is the outbound mail provider, consumed as a black box.
// Implementations must be safe for concurrent use; the sender calls
// Send from multiple goroutines.
type Transport interface {
	Send(ctx context.Context, msg *Message) *Outcome
}

// Failure builds a failed outcome.
func Failure(code, message string) *Outcome {
	return &Outcome{OK: false, ErrorCode: code, ErrorMessage: message}
}
