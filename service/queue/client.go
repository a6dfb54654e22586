package queue

import (
	"time"

	"PulseIM/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// The two durable queues of the delivery pipeline. Both survive broker
// restarts and are consumed with manual acknowledgment.
const (
	StreamMessages = "MESSAGES"
	SubjectInbound = "messages.inbound"

	StreamAutoSend  = "AUTOSEND"
	SubjectAutoSend = "messages.autosend"
)

type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "nats connect %s", url)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "jetstream context")
	}
	c := &Client{nc: nc, js: js}
	if err := c.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStreams() error {
	for _, s := range []struct {
		name    string
		subject string
	}{
		{StreamMessages, SubjectInbound},
		{StreamAutoSend, SubjectAutoSend},
	} {
		_, err := c.js.AddStream(&nats.StreamConfig{
			Name:      s.name,
			Subjects:  []string{s.subject},
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return errors.Wrapf(err, "ensure stream %s", s.name)
		}
	}
	return nil
}

func (c *Client) Close() {
	c.nc.Drain()
}
