package infra

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"callerid-gateway/callerid/domain"
)

const DefaultAllocationSubject = "callerid.allocations"

// Publisher é o pedaço de *nats.Conn que o sink usa.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publica cada alocação como JSON num subject NATS (fire and forget).
type NATSSink struct {
	pub     Publisher
	subject string
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultAllocationSubject
	}
	return &NATSSink{pub: pub, subject: subject}
}

func (s *NATSSink) Emit(ctx context.Context, ev domain.AllocationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode allocation event")
	}
	if err := s.pub.Publish(s.subject, raw); err != nil {
		return errors.Wrapf(err, "publish to %s", s.subject)
	}
	return nil
}

// ConnectNATS abre a conexão com reconexão infinita e logs via callback.
func ConnectNATS(url, name string, onEvent func(msg string, err error)) (*nats.Conn, error) {
	if onEvent == nil {
		onEvent = func(string, error) {}
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { onEvent("nats disconnected", err) }),
		nats.ReconnectHandler(func(c *nats.Conn) { onEvent("nats reconnected to "+c.ConnectedUrl(), nil) }),
		nats.ClosedHandler(func(*nats.Conn) { onEvent("nats connection closed", nil) }),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	return nc, nil
}

var (
	_ domain.EventSink = (*NATSSink)(nil)
	_ Publisher        = (*nats.Conn)(nil)
)
