package health

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher is the narrow side channel the monitor publishes health
// reports onto. NATSPublisher is the production implementation; tests
// use a hand-rolled fake.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes health reports to a NATS subject per preset
// and channel (spec §9: optional fan-out, disabled when unconfigured).
// Connection handling follows the same reconnect-forever idiom used
// elsewhere against this broker: unlimited reconnect attempts with a
// fixed wait, and handlers that log rather than fail the process.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher dials url and returns a Publisher. clientName
// identifies this connection in NATS server introspection.
func NewNATSPublisher(url, clientName string, log *logrus.Entry) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("health nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("health nats reconnected")
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Close closes the underlying connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}
