package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is where notifications are mirrored.
const DefaultSubject = "shopsense.notifications"

// Publisher is the part of *nats.Conn the mirror uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS mirrors notifications as JSON messages, e.g. to a phone companion.
type NATS struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

type natsMessage struct {
	MessageID    string        `json:"message_id"`
	Kind         string        `json:"kind"` // "notify" | "cancel"
	Time         time.Time     `json:"time"`
	Notification *Notification `json:"notification,omitempty"`
	ID           int           `json:"id"`
}

func NewNATS(pub Publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{pub: pub, subject: subject, now: time.Now}
}

// ConnectNATS dials url with reconnect logging.
func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("shopsense"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug("nats connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return nc, nil
}

func (m *NATS) Notify(_ context.Context, n Notification) error {
	return m.publish(natsMessage{Kind: "notify", Notification: &n, ID: n.ID})
}

func (m *NATS) Cancel(_ context.Context, id int) error {
	return m.publish(natsMessage{Kind: "cancel", ID: id})
}

func (m *NATS) publish(msg natsMessage) error {
	msg.MessageID = uuid.NewString()
	msg.Time = m.now().UTC()
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := m.pub.Publish(m.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", m.subject, err)
	}
	return nil
}
