package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeJobs    Exchange = "jobstore.jobs"
	ExchangeCluster Exchange = "jobstore.cluster"
	ExchangeDLQ     Exchange = "jobstore.dlq"
)

// Queues — имена очередей.
const (
	QueueJobsFire      Queue = "jobs.fire"
	QueueJobsCompleted Queue = "jobs.completed"
	QueueClusterEvents Queue = "cluster.events"
	QueueDLQJobs       Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeyFire             RoutingKey = "fire"
	RoutingKeyCompleted        RoutingKey = "completed"
	RoutingKeyInstanceFailed   RoutingKey = "instance.failed"
	RoutingKeyTriggerRecovered RoutingKey = "trigger.recovered"
	RoutingKeyDLQJobs          RoutingKey = "jobs"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// exchanges — обменники jobstore.
func exchanges() []exchangeDecl {
	return []exchangeDecl{
		{ExchangeJobs, "direct"},
		{ExchangeCluster, "direct"},
		{ExchangeDLQ, "direct"},
	}
}

// queues — очереди jobstore.
func queues() []queueDecl {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}

	return []queueDecl{
		// jobs.fire — с DLQ (исполнитель может отвергнуть job)
		{QueueJobsFire, dlqArgs},
		{QueueJobsCompleted, nil},
		{QueueClusterEvents, nil},
		{QueueDLQJobs, nil},
	}
}

// bindings — привязки очередей к обменникам.
func bindings() []bindingDecl {
	return []bindingDecl{
		{QueueJobsFire, RoutingKeyFire, ExchangeJobs},
		{QueueJobsCompleted, RoutingKeyCompleted, ExchangeJobs},
		{QueueClusterEvents, RoutingKeyInstanceFailed, ExchangeCluster},
		{QueueClusterEvents, RoutingKeyTriggerRecovered, ExchangeCluster},
		{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ},
	}
}

// DeclareTopology объявляет exchanges, queues и bindings на канале ch.
// Повторный вызов безопасен. Передаётся как ConnectionConfig.OnConnect,
// чтобы топология восстанавливалась после перезапуска брокера.
func DeclareTopology(ch *amqp.Channel) error {
	for _, ex := range exchanges() {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	for _, q := range queues() {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	for _, b := range bindings() {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  jobstore RabbitMQ Topology:

    jobstore.jobs (direct)
    ├── jobs.fire [routing: fire]
    │       Consumer: job executors
    │       DLQ: dlq.jobs
    └── jobs.completed [routing: completed]
            Consumer: jobstore-node dispatcher

    jobstore.cluster (direct)
    └── cluster.events [routing: instance.failed, trigger.recovered]
            Consumer: monitoring

    jobstore.dlq (direct)
    └── dlq.jobs [routing: jobs]
            Manual processing
  `
}
