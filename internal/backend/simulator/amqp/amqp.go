// Package amqp implements an AMQP / RabbitMQ simulator backend. Events are
// consumed from a queue bound to the amq.topic exchange, commands are
// published to the same exchange.
package amqp

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator"
	"github.com/brocaar/chirpstack-network-simulator/internal/config"
	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/lorawan"
)

const (
	exchange    = "amq.topic"
	contentType = "application/json"
	maxIdle     = 10
)

// Backend implements an AMQP backend.
type Backend struct {
	channels *channels

	eventQueueName    string
	eventRoutingKey   string
	commandRoutingKey *template.Template

	eventChan chan events.Event
	stop      chan struct{}
	done      chan struct{}
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (simulator.Simulator, error) {
	var err error
	conf := c.NetworkServer.EventBackend.AMQP

	b := Backend{
		eventQueueName:  conf.EventQueueName,
		eventRoutingKey: conf.EventRoutingKey,
		eventChan:       make(chan events.Event),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	b.commandRoutingKey, err = template.New("command").Parse(conf.CommandRoutingKeyTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "simulator/amqp: parse command routing-key template error")
	}

	log.Info("simulator/amqp: connecting to AMQP server")
	b.channels, err = dialChannels(conf.URL, maxIdle)
	if err != nil {
		return nil, errors.Wrap(err, "simulator/amqp: connect error")
	}

	if err := b.setupQueue(); err != nil {
		return nil, errors.Wrap(err, "simulator/amqp: setup queue error")
	}

	go b.eventLoop()

	return &b, nil
}

// HealthCheck returns an error when the AMQP connection is closed.
func (b *Backend) HealthCheck() error {
	if b.channels.isClosed() || b.channels.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// EventChan returns the event channel.
func (b *Backend) EventChan() chan events.Event {
	return b.eventChan
}

// SendCommand publishes the given command.
func (b *Backend) SendCommand(cmd events.Command) error {
	bb, err := events.MarshalCommand(cmd)
	if err != nil {
		return errors.Wrap(err, "simulator/amqp: marshal command error")
	}

	routingKey, err := b.commandKey(cmd)
	if err != nil {
		return err
	}

	ch, err := b.channels.acquire()
	if err != nil {
		return errors.Wrap(err, "acquire amqp channel error")
	}

	log.WithFields(log.Fields{
		"dev_addr":    cmd.DevAddr,
		"command":     cmd.Type,
		"routing_key": routingKey,
	}).Debug("simulator/amqp: publishing command")

	err = ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: contentType,
			Body:        bb,
		},
	)
	b.channels.release(ch, err != nil)
	if err != nil {
		return errors.Wrap(err, "publish message error")
	}

	commandCounter(cmd.Type).Inc()
	return nil
}

// Close closes the backend. The event channel is closed once the event loop
// has returned.
func (b *Backend) Close() error {
	log.Info("simulator/amqp: closing backend")
	close(b.stop)
	err := b.channels.close()
	<-b.done
	return err
}

func (b *Backend) commandKey(cmd events.Command) (string, error) {
	key := bytes.NewBuffer(nil)
	if err := b.commandRoutingKey.Execute(key, struct {
		CommandType events.CommandType
		DevAddr     lorawan.DevAddr
	}{cmd.Type, cmd.DevAddr}); err != nil {
		return "", errors.Wrap(err, "execute command routing-key template error")
	}
	return key.String(), nil
}

func (b *Backend) setupQueue() (err error) {
	ch, err := b.channels.acquire()
	if err != nil {
		return errors.Wrap(err, "acquire amqp channel error")
	}
	defer func() { b.channels.release(ch, err != nil) }()

	_, err = ch.QueueDeclare(
		b.eventQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "declare queue error")
	}

	err = ch.QueueBind(
		b.eventQueueName,
		b.eventRoutingKey,
		exchange,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "bind queue error")
	}

	return nil
}

func (b *Backend) eventLoop() {
	defer close(b.done)
	defer close(b.eventChan)

	for {
		err := b.consume()
		if errors.Cause(err) == errClosed || b.channels.isClosed() {
			return
		}
		if err != nil {
			log.WithError(err).Error("simulator/amqp: event loop error")
			time.Sleep(time.Second)
		}
	}
}

// consume handles the deliveries of the event queue until the channel is
// closed.
func (b *Backend) consume() error {
	ch, err := b.channels.acquire()
	if err != nil {
		return errors.Wrap(err, "acquire amqp channel error")
	}
	// the delivery channel is closed with the amqp channel
	defer b.channels.release(ch, true)

	log.Info("simulator/amqp: start consuming simulator events")

	msgs, err := ch.Consume(
		b.eventQueueName,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "register consumer error")
	}

	for msg := range msgs {
		if err := b.handleEvent(msg); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"routing_key": msg.RoutingKey,
			}).Error("simulator/amqp: handle event error")
		}
	}

	return nil
}

func (b *Backend) handleEvent(msg amqp.Delivery) error {
	e, err := events.UnmarshalEvent(msg.Body)
	if err != nil {
		rejectedCounter(rejectUnmarshal).Inc()
		return errors.Wrap(err, "unmarshal error")
	}

	routing := strings.Split(msg.RoutingKey, ".")
	if typ := routing[len(routing)-1]; typ != string(e.Type) {
		rejectedCounter(rejectRoutingMismatch).Inc()
		return errors.Errorf("event type %s does not match routing-key %s", e.Type, msg.RoutingKey)
	}

	log.WithFields(log.Fields{
		"type": e.Type,
		"time": e.Time,
	}).Debug("simulator/amqp: event received")

	select {
	case b.eventChan <- e:
		eventCounter(e.Type).Inc()
		return nil
	case <-b.stop:
		rejectedCounter(rejectClosed).Inc()
		return errClosed
	}
}
