package mq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "item_redeemed", routingKey(map[string]string{eventTypeAttr: "item_redeemed"}))
	assert.Equal(t, "event", routingKey(map[string]string{eventTypeAttr: "  "}))
	assert.Equal(t, "event", routingKey(nil))
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "rewear.exchange.notifier", queueName("rewear.exchange", defaultQueueSuffix))
	assert.Equal(t, "rewear.exchange.e2e", queueName("rewear.exchange", ".e2e"))
}

func TestDeliveryMode(t *testing.T) {
	assert.Equal(t, amqp.Persistent, deliveryMode(true))
	assert.Equal(t, amqp.Transient, deliveryMode(false))
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"event_type": "swap_requested",
		"raw":        []byte("bytes"),
		"attempt":    int32(2),
	})
	assert.Equal(t, map[string]string{
		"event_type": "swap_requested",
		"raw":        "bytes",
		"attempt":    "2",
	}, attrs)
}
