package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Factory builds AMQP publishers and subscribers over a single broker URL.
// All exchanges are durable topic exchanges; the watermill "topic" is the
// routing key within the exchange the endpoint was built for.
type Factory struct {
	uri    string
	logger watermill.LoggerAdapter
}

func NewFactory(uri string, logger watermill.LoggerAdapter) *Factory {
	return &Factory{uri: uri, logger: logger}
}

func (f *Factory) exchangeConfig(exchange string, queueName wamqp.QueueNameGenerator) wamqp.Config {
	cfg := wamqp.NewDurablePubSubConfig(f.uri, queueName)
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

// BuildPublisher returns a publisher bound to the given exchange. Publish
// topics become routing keys.
func (f *Factory) BuildPublisher(exchange string) (message.Publisher, error) {
	cfg := f.exchangeConfig(exchange, nil)
	return wamqp.NewPublisher(cfg, f.logger)
}

// BuildSubscriber returns a subscriber consuming from a shared durable queue.
// Replicas passing the same queue name share the work (consumer group);
// passing distinct names gives each replica its own full copy of the stream.
func (f *Factory) BuildSubscriber(queue, exchange string) (message.Subscriber, error) {
	cfg := f.exchangeConfig(exchange, wamqp.GenerateQueueNameConstant(queue))
	cfg.Consume.Qos.PrefetchCount = 128
	return wamqp.NewSubscriber(cfg, f.logger)
}

// BuildEphemeralSubscriber returns a subscriber on an auto-delete,
// non-durable queue. Used for per-node broadcast streams and the typing
// firehose, where a backlog for a dead node is worthless.
func (f *Factory) BuildEphemeralSubscriber(queue, exchange string) (message.Subscriber, error) {
	cfg := f.exchangeConfig(exchange, wamqp.GenerateQueueNameConstant(queue))
	cfg.Queue.Durable = false
	cfg.Queue.AutoDelete = true
	cfg.Consume.Qos.PrefetchCount = 512
	return wamqp.NewSubscriber(cfg, f.logger)
}
