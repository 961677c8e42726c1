package mqtt

import (
	"bytes"
	"encoding/base64"
	"strings"
	"sync"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator"
	"github.com/brocaar/chirpstack-network-simulator/internal/config"
	"github.com/brocaar/chirpstack-network-simulator/internal/events"
	"github.com/brocaar/lorawan"
)

// closeTimeout is the time Close waits for pending events to be consumed.
const closeTimeout = 2 * time.Second

// Backend implements a MQTT simulator backend.
type Backend struct {
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	conn            paho.Client
	eventChan       chan events.Event
	stop            chan struct{}
	eventTopic      string
	commandTemplate *template.Template
	qos             uint8
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (simulator.Simulator, error) {
	var err error
	conf := c.NetworkServer.EventBackend.MQTT

	b := Backend{
		eventChan:  make(chan events.Event),
		stop:       make(chan struct{}),
		eventTopic: conf.EventTopic,
		qos:        conf.QOS,
	}

	b.commandTemplate, err = template.New("command").Parse(conf.CommandTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "simulator/mqtt: parse command template error")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetClientID(conf.ClientID)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	if conf.MaxReconnectInterval != 0 {
		opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)
	}

	log.WithField("server", conf.Server).Info("simulator/mqtt: connecting to mqtt broker")
	b.conn = paho.NewClient(opts)
	for {
		if token := b.conn.Connect(); token.Wait() && token.Error() != nil {
			log.Errorf("simulator/mqtt: connecting to mqtt broker failed, will retry in 2s: %s", token.Error())
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return &b, nil
}

// Close closes the backend. Pending events are handed to the consumer until
// closeTimeout has passed, after that they are dropped. The event channel
// is closed on return.
func (b *Backend) Close() error {
	log.Info("simulator/mqtt: closing backend")

	log.WithField("topic", b.eventTopic).Info("simulator/mqtt: unsubscribing from event topic")
	if token := b.conn.Unsubscribe(b.eventTopic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "simulator/mqtt: unsubscribe from %s error", b.eventTopic)
	}

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	log.Info("simulator/mqtt: handling last events")
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		log.Warning("simulator/mqtt: pending events not consumed, dropping them")
		close(b.stop)
		<-done
	}

	close(b.eventChan)
	b.conn.Disconnect(250)
	return nil
}

// HealthCheck returns an error when the broker connection is not open.
func (b *Backend) HealthCheck() error {
	if !b.conn.IsConnectionOpen() {
		return errors.New("mqtt connection is not open")
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
		return errors.Wrap(err, "simulator/mqtt: marshal command error")
	}

	topic, err := b.commandTopic(cmd)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"topic":    topic,
		"qos":      b.qos,
		"dev_addr": cmd.DevAddr,
	}).Debug("simulator/mqtt: publishing command")

	commandCounter(cmd.Type).Inc()

	if token := b.conn.Publish(topic, b.qos, false, bb); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "simulator/mqtt: publish command error")
	}
	return nil
}

func (b *Backend) commandTopic(cmd events.Command) (string, error) {
	topic := bytes.NewBuffer(nil)
	if err := b.commandTemplate.Execute(topic, struct {
		CommandType events.CommandType
		DevAddr     lorawan.DevAddr
	}{cmd.Type, cmd.DevAddr}); err != nil {
		return "", errors.Wrap(err, "simulator/mqtt: execute command template error")
	}
	return topic.String(), nil
}

func (b *Backend) eventHandler(c paho.Client, msg paho.Message) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		rejectedCounter(rejectClosed).Inc()
		log.WithField("topic", msg.Topic()).Warning("simulator/mqtt: backend closed, message dropped")
		return
	}
	b.wg.Add(1)
	b.mu.RUnlock()
	defer b.wg.Done()

	e, err := events.UnmarshalEvent(msg.Payload())
	if err != nil {
		rejectedCounter(rejectUnmarshal).Inc()
		log.WithFields(log.Fields{
			"topic":       msg.Topic(),
			"data_base64": base64.StdEncoding.EncodeToString(msg.Payload()),
		}).WithError(err).Error("simulator/mqtt: unmarshal event error")
		return
	}

	topic := strings.Split(msg.Topic(), "/")
	if typ := topic[len(topic)-1]; typ != string(e.Type) {
		rejectedCounter(rejectTopicMismatch).Inc()
		log.WithFields(log.Fields{
			"topic": msg.Topic(),
			"type":  e.Type,
		}).Error("simulator/mqtt: event type does not match topic")
		return
	}

	select {
	case b.eventChan <- e:
		eventCounter(e.Type).Inc()
	case <-b.stop:
		rejectedCounter(rejectClosed).Inc()
		log.WithFields(log.Fields{
			"type": e.Type,
			"time": e.Time,
		}).Warning("simulator/mqtt: backend closed, event dropped")
	}
}

func (b *Backend) onConnected(c paho.Client) {
	connectionCounter("connected").Inc()
	log.Info("simulator/mqtt: connected to mqtt server")

	for {
		log.WithFields(log.Fields{
			"topic": b.eventTopic,
			"qos":   b.qos,
		}).Info("simulator/mqtt: subscribing to event topic")
		if token := b.conn.Subscribe(b.eventTopic, b.qos, b.eventHandler); token.Wait() && token.Error() != nil {
			log.WithFields(log.Fields{
				"topic": b.eventTopic,
				"qos":   b.qos,
			}).Errorf("simulator/mqtt: subscribe error: %s", token.Error())
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (b *Backend) onConnectionLost(c paho.Client, reason error) {
	connectionCounter("lost").Inc()
	log.Errorf("simulator/mqtt: mqtt connection error: %s", reason)
}
