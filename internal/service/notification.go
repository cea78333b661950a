package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"repay/internal/domain"
)

// Template names a registered SMS/alimtalk template.
type Template string

const (
	TemplateNotice    Template = "repay_notice"    // Payment link, mild wording
	TemplateWarning   Template = "repay_warning"   // Payment link, final warning
	TemplateCompleted Template = "repay_completed" // Automatic charge succeeded
)

// DefaultLinkBase is where customers pay an outstanding ride.
const DefaultLinkBase = "https://repay.hikick.kr"

// SMSMessage is one templated message to a customer.
type SMSMessage struct {
	To       string
	Template Template
	Fields   map[string]string
}

// SMSSender delivers templated messages.
type SMSSender interface {
	Send(ctx context.Context, msg SMSMessage) error
}

// WebhookPoster posts a plain-text line to the operations channel.
type WebhookPoster interface {
	Post(ctx context.Context, text string) error
}

// NotificationOptions contains the notification configuration.
type NotificationOptions struct {
	LinkBase string
	Location *time.Location // Zone the ride times are rendered in
}

// NotificationService handles customer messages and operations summaries.
type NotificationService struct {
	sms      SMSSender
	webhook  WebhookPoster
	linkBase string
	loc      *time.Location
	log      *zap.Logger
}

// NewNotificationService creates a new NotificationService. webhook may be
// nil, in which case summaries are only logged.
func NewNotificationService(sms SMSSender, webhook WebhookPoster, opts NotificationOptions, log *zap.Logger) *NotificationService {
	if opts.LinkBase == "" {
		opts.LinkBase = DefaultLinkBase
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &NotificationService{
		sms:      sms,
		webhook:  webhook,
		linkBase: strings.TrimRight(opts.LinkBase, "/"),
		loc:      opts.Location,
		log:      log,
	}
}

// NotifyUnpaid sends the payment link for a ride using the given template.
func (s *NotificationService) NotifyUnpaid(ctx context.Context, tmpl Template, user *domain.User, ride *domain.Ride, amount int64) error {
	return s.send(ctx, tmpl, user, ride, amount)
}

// NotifyCompleted tells the user an automatic charge settled the ride.
func (s *NotificationService) NotifyCompleted(ctx context.Context, user *domain.User, ride *domain.Ride, amount int64) error {
	return s.send(ctx, TemplateCompleted, user, ride, amount)
}

// PostSummary posts one line to the operations webhook.
func (s *NotificationService) PostSummary(ctx context.Context, text string) error {
	s.log.Info("run summary", zap.String("text", text))
	if s.webhook == nil {
		return nil
	}
	return s.webhook.Post(ctx, text)
}

// PaymentLink returns the customer-facing payment page of a ride.
func (s *NotificationService) PaymentLink(rideID string) string {
	return s.linkBase + "/" + rideID
}

func (s *NotificationService) send(ctx context.Context, tmpl Template, user *domain.User, ride *domain.Ride, amount int64) error {
	msg := SMSMessage{
		To:       user.Phone,
		Template: tmpl,
		Fields:   s.fields(user, ride, amount),
	}

	if err := s.sms.Send(ctx, msg); err != nil {
		return err
	}

	s.log.Info("message sent",
		zap.String("user_id", user.ID),
		zap.String("ride_id", ride.ID),
		zap.String("template", string(tmpl)),
	)
	return nil
}

func (s *NotificationService) fields(user *domain.User, ride *domain.Ride, amount int64) map[string]string {
	birthday := ""
	if !user.Birthday.IsZero() {
		birthday = user.Birthday.Format("2006-01-02")
	}

	return map[string]string{
		"name":     user.DisplayName(),
		"birthday": birthday,
		"branch":   ride.Branch,
		"used_at":  ride.StartedAt.In(s.loc).Format("2006-01-02 15:04") + " ~ " + ride.EndedAt.In(s.loc).Format("15:04"),
		"minutes":  strconv.FormatInt(ride.Minutes(), 10),
		"amount":   strconv.FormatInt(amount, 10),
		"link":     s.PaymentLink(ride.ID),
	}
}
