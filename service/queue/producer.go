package queue

import (
	"encoding/json"

	"PulseIM/tools/errs"

	"github.com/nats-io/nats.go"
)

// Publish places one envelope on the durable subject. The idempotency
// key rides in the standard message-id header so JetStream suppresses
// exact republish duplicates on top of the consumer-side dedupe.
func (c *Client) Publish(subject string, payload interface{}, idemKey string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if idemKey != "" {
		msg.Header.Set(nats.MsgIdHdr, idemKey)
	}
	if _, err := c.js.PublishMsg(msg); err != nil {
		return errs.ErrBrokerDown.WithDetail(err.Error())
	}
	return nil
}
