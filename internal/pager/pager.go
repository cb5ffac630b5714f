// Package pager alerts on-call hospital staff about new emergencies.
package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/models"
)

var ErrNotConfigured = errors.New("twilio pager not configured")

type Pager interface {
	Page(ctx context.Context, e *models.Emergency) error
}

// messageCreator is the subset of the Twilio REST API used for paging.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioPager sends an SMS to the on-call number for each emergency.
type TwilioPager struct {
	api  messageCreator
	from string
	to   string
}

func NewTwilioPager(accountSID, authToken, from, to string) (*TwilioPager, error) {
	if accountSID == "" || authToken == "" || from == "" || to == "" {
		return nil, ErrNotConfigured
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioPager{api: client.Api, from: from, to: to}, nil
}

func (p *TwilioPager) Page(ctx context.Context, e *models.Emergency) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(p.to)
	params.SetFrom(p.from)
	params.SetBody(Message(e))

	resp, err := p.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("error paging on-call staff for %s: %w", e.ID, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("on-call staff paged", "emergency_id", e.ID, "message_sid", sid)
	return nil
}

// LogPager writes pages to the log. Used when no SMS provider is set up.
type LogPager struct{}

func (LogPager) Page(ctx context.Context, e *models.Emergency) error {
	slog.Warn("PAGE on-call staff", "emergency_id", e.ID, "message", Message(e))
	return nil
}

// New returns a TwilioPager when credentials are complete and a LogPager
// otherwise.
func New(accountSID, authToken, from, to string) Pager {
	p, err := NewTwilioPager(accountSID, authToken, from, to)
	if err != nil {
		slog.Info("twilio not configured, pages will be logged only")
		return LogPager{}
	}
	return p
}

func Message(e *models.Emergency) string {
	eta := geo.FormatCountdown(geo.TravelTimeSeconds(e.DistanceKm))
	return fmt.Sprintf("%s EMERGENCY %s: %s, %.2f km away (ETA %s). %s https://maps.google.com/?q=%.6f,%.6f",
		e.EmergencyType, e.ID, e.PatientName, e.DistanceKm, eta, e.Address, e.Latitude, e.Longitude)
}
