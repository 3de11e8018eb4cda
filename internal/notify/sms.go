package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"onebreath/internal/config"
)

// maxSMSBody keeps texts within a few segments.
const maxSMSBody = 480

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMS sends notifications through the Twilio REST API, one message per recipient.
type SMS struct {
	from       string
	recipients []string
	api        messageCreator
}

// NewSMS builds a Twilio notifier from cfg.
func NewSMS(cfg config.SMSConfig) (*SMS, error) {
	if !cfg.Enabled() {
		return nil, errors.New("sms: account sid, auth token, sender and recipients required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMS{from: cfg.From, recipients: append([]string(nil), cfg.Recipients...), api: client.Api}, nil
}

// Notify texts every recipient. Remaining recipients are still attempted
// after a failure.
func (s *SMS) Notify(ctx context.Context, msg Message) error {
	body := msg.Subject
	if msg.Body != "" {
		body += ": " + msg.Body
	}
	if len(body) > maxSMSBody {
		body = body[:maxSMSBody-3] + "..."
	}
	var errs []error
	for _, to := range s.recipients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(s.from)
		params.SetBody(body)
		if _, err := s.api.CreateMessage(params); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}
