package amqp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var errClosed = errors.New("backend is closed")

// channels keeps the idle AMQP channels of a single connection. Command
// publishing takes an idle channel and returns it afterwards; the event
// consumer holds one for as long as its delivery channel is open.
type channels struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	idle   []*amqp.Channel
	max    int
	closed bool
}

func dialChannels(url string, max int) (*channels, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp url error")
	}

	return &channels{
		conn: conn,
		max:  max,
	}, nil
}

// acquire returns an idle channel, or opens a new one when none is idle.
func (c *channels) acquire() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}

	if n := len(c.idle); n != 0 {
		ch := c.idle[n-1]
		c.idle = c.idle[:n-1]
		return ch, nil
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel error")
	}
	openChannelsGauge().Inc()
	return ch, nil
}

// release hands the channel back. A channel which returned an error is
// closed, as the server closes it on most errors anyway.
func (c *channels) release(ch *amqp.Channel, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if failed || c.closed || len(c.idle) >= c.max {
		openChannelsGauge().Dec()
		ch.Close()
		return
	}
	c.idle = append(c.idle, ch)
}

func (c *channels) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close closes the idle channels and the connection. Channels which are in
// use are closed with the connection.
func (c *channels) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, ch := range c.idle {
		openChannelsGauge().Dec()
		ch.Close()
	}
	c.idle = nil

	return c.conn.Close()
}
