package queue

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

type natsDelivery struct {
	msg        *nats.Msg
	receivedAt time.Time

	settled atomic.Bool
}

func newNATSDelivery(msg *nats.Msg, receivedAt time.Time) *natsDelivery {
	return &natsDelivery{
		msg:        msg,
		receivedAt: receivedAt,
	}
}

func (d *natsDelivery) ID() string {
	if md, err := d.msg.Metadata(); err == nil && md != nil {
		return d.msg.Subject + "/" + strconv.FormatUint(md.Sequence.Stream, 10)
	}
	return d.msg.Subject
}

func (d *natsDelivery) Body() []byte { return d.msg.Data }

func (d *natsDelivery) Headers() []Header {
	if len(d.msg.Header) == 0 {
		return nil
	}

	var headers []Header
	for k, values := range d.msg.Header {
		for _, v := range values {
			headers = append(headers, Header{
				Key:   k,
				Value: []byte(v),
			})
		}
	}
	return headers
}

func (d *natsDelivery) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.settled.Swap(true) {
		return nil
	}
	if err := d.msg.Ack(); err != nil && !isNATSAckUnsupported(err) {
		return err
	}
	return nil
}

func (d *natsDelivery) Nack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.settled.Swap(true) {
		return nil
	}
	if err := d.msg.Nak(); err != nil && !isNATSAckUnsupported(err) {
		return err
	}
	return nil
}

func isNATSAckUnsupported(err error) bool {
	return errors.Is(err, nats.ErrMsgNoReply) || errors.Is(err, nats.ErrMsgNotBound)
}
