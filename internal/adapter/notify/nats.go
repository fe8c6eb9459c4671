// internal/adapter/notify/nats.go

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"eventradar/internal/domain/event"
)

// DefaultSubject is where dispatch requests are published for the delivery service
const DefaultSubject = "events.notifications.dispatch"

// Publisher is the subset of *nats.Conn the dispatcher needs
type Publisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSDispatcher hands notification requests to the delivery service over NATS
type NATSDispatcher struct {
	conn    Publisher
	subject string
	logger  *slog.Logger
}

// NewNATSDispatcher creates a dispatcher publishing to subject
func NewNATSDispatcher(conn Publisher, subject string, logger *slog.Logger) *NATSDispatcher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSDispatcher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

// Dispatch publishes req and waits for the server to acknowledge the flush
func (d *NATSDispatcher) Dispatch(ctx context.Context, req event.NotificationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("error marshaling notification: %w", err)
	}

	msg := nats.NewMsg(d.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, req.ID)

	if err := d.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("error publishing notification: %w", err)
	}
	if err := d.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("error flushing notification: %w", err)
	}

	d.logger.Debug("Notification published", "subject", d.subject, "request_id", req.ID)
	return nil
}

// LogDispatcher logs notification requests instead of delivering them
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher for environments without NATS
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the request
func (d *LogDispatcher) Dispatch(ctx context.Context, req event.NotificationRequest) error {
	d.logger.Info("MOCK NOTIFICATION",
		"request_id", req.ID,
		"title", req.Title,
		"body", req.Body,
		"target_id", req.TargetID)
	return nil
}
