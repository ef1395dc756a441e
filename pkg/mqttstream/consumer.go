package mqttstream

import (
	"context"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler is invoked once per delivered message, in delivery order per
// partition of the shared subscription. Receipt time is taken when the broker
// hands the message over; envelopes carrying their own timestamp win later,
// during normalization.
type Handler func(topic string, payload []byte, receivedAt time.Time) error

// Consumer subscribes to one uplink topic through the consumer group's shared
// subscription and forwards every message to the handler.
type Consumer struct {
	client  mqtt.Client
	topic   string
	group   string
	handler Handler
}

func NewConsumer(client mqtt.Client, topic, group string, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, group: group, handler: handler}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// subscription returns the broker-side filter: a $share subscription when a
// group is set, the bare topic otherwise.
func (c *Consumer) subscription() string {
	if c.group == "" {
		return c.topic
	}
	return "$share/" + c.group + "/" + c.topic
}

// Consume subscribes and blocks until ctx is done, then unsubscribes.
// Uplinks are QoS1: the broker redelivers on missed acks, and the pipeline
// dedups on payload.
func (c *Consumer) Consume(ctx context.Context) {
	sub := c.subscription()
	token := c.client.Subscribe(sub, 1, func(_ mqtt.Client, m mqtt.Message) {
		if c.handler == nil {
			log.Printf("mqttstream: no handler set for %s", c.topic)
			return
		}
		if err := c.handler(m.Topic(), m.Payload(), time.Now().UTC()); err != nil {
			log.Printf("mqttstream: handler error on %s: %v", m.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("mqttstream: subscribe error on %s: %v", sub, token.Error())
		return
	}
	log.Printf("mqttstream: subscribed to %s", sub)

	<-ctx.Done()

	unsub := c.client.Unsubscribe(sub)
	unsub.Wait()
}
