package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyrush/locksmith-dispatch/internal/observability/metrics"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// Sender is what the session engine and dispatcher use to reach a phone.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}

// SendRequest describes one outbound SMS. JobID/LocksmithID link the
// logged message for the admin console.
type SendRequest struct {
	To          string
	Body        string
	JobID       string
	LocksmithID string
}

// Service sends SMS through the gateway client and logs every attempt,
// including failures, to the message store. With no client configured
// (development) it only logs, fabricating a dev provider id.
type Service struct {
	client SMSClient
	store  *Store
	from   string
	logger *logging.Logger
	sms    *metrics.SMSMetrics
}

// NewService wires the persisting sender. client may be nil in dev.
func NewService(client SMSClient, store *Store, from string, logger *logging.Logger, sms *metrics.SMSMetrics) *Service {
	if store == nil {
		panic("messaging: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{client: client, store: store, from: from, logger: logger, sms: sms}
}

var _ Sender = (*Service)(nil)

// Send delivers one SMS and appends the outcome to the message log. The
// returned string is the provider message id. Send errors are returned
// after the failed attempt is logged; the log insert itself failing never
// masks a successful delivery.
func (s *Service) Send(ctx context.Context, req SendRequest) (string, error) {
	if req.To == "" {
		return "", errors.New("messaging: to required")
	}

	msg := Message{
		JobID:       req.JobID,
		LocksmithID: req.LocksmithID,
		Direction:   DirectionOutbound,
		ToPhone:     req.To,
		FromPhone:   s.from,
		Body:        req.Body,
	}

	if s.client == nil {
		// Dev mode: record the message without touching the gateway.
		ref := req.JobID
		if ref == "" {
			ref = "none"
		}
		msg.ProviderMessageID = fmt.Sprintf("dev_msg_%s", ref)
		msg.DeliveryStatus = "dev_mode"
		if _, err := s.store.Insert(ctx, msg); err != nil {
			return "", err
		}
		s.logger.Info("sms logged (dev mode)", "to", req.To, "body", req.Body)
		s.sms.ObserveSend("dev_mode", 0)
		return msg.ProviderMessageID, nil
	}

	start := time.Now()
	sid, sendErr := s.client.SendSMS(ctx, req.To, req.Body)
	elapsed := time.Since(start).Seconds()

	if sendErr != nil {
		msg.DeliveryStatus = "failed"
		msg.ErrorMessage = sendErr.Error()
		if _, err := s.store.Insert(ctx, msg); err != nil {
			s.logger.Error("failed to log failed sms", "error", err, "to", req.To)
		}
		s.sms.ObserveSend("failed", elapsed)
		return "", sendErr
	}

	msg.ProviderMessageID = sid
	msg.DeliveryStatus = "sent"
	if _, err := s.store.Insert(ctx, msg); err != nil {
		s.logger.Error("failed to log sent sms", "error", err, "to", req.To, "sid", sid)
	}
	s.sms.ObserveSend("sent", elapsed)
	return sid, nil
}

// LogInbound appends an inbound webhook message to the log.
func (s *Service) LogInbound(ctx context.Context, msg *InboundSMS, locksmithID string) error {
	_, err := s.store.Insert(ctx, Message{
		LocksmithID:       locksmithID,
		Direction:         DirectionInbound,
		ToPhone:           NormalizePhone(msg.To),
		FromPhone:         NormalizePhone(msg.From),
		Body:              msg.Body,
		ProviderMessageID: msg.MessageSid,
		DeliveryStatus:    "received",
	})
	return err
}

// SeenBefore reports whether this webhook delivery is a replay.
func (s *Service) SeenBefore(ctx context.Context, msg *InboundSMS) (bool, error) {
	return s.store.HasProviderMessage(ctx, msg.MessageSid)
}
