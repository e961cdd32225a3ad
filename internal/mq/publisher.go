package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobFire          MessageType = "job.fire"
	MessageTypeJobCompleted     MessageType = "job.completed"
	MessageTypeInstanceFailed   MessageType = "instance.failed"
	MessageTypeTriggerRecovered MessageType = "trigger.recovered"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// JobFirePayload — эпизод срабатывания, переданный исполнителю.
type JobFirePayload struct {
	FireInstanceID string         `json:"fire_instance_id"`
	InstanceID     string         `json:"instance_id"`
	TriggerName    string         `json:"trigger_name"`
	TriggerGroup   string         `json:"trigger_group"`
	JobName        string         `json:"job_name"`
	JobGroup       string         `json:"job_group"`
	ScheduledTime  *time.Time     `json:"scheduled_time,omitempty"`
	FireTime       time.Time      `json:"fire_time"`
	Recovering     bool           `json:"recovering"`
	JobData        map[string]any `json:"job_data,omitempty"`
}

// Статусы завершения job.
const (
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// JobCompletedPayload — результат выполнения от исполнителя.
type JobCompletedPayload struct {
	FireInstanceID string `json:"fire_instance_id"`
	Status         string `json:"status"` // SUCCEEDED или FAILED
	Error          string `json:"error,omitempty"`
}

// InstanceFailedPayload — инстанс признан упавшим и восстановлен.
type InstanceFailedPayload struct {
	InstanceID      string    `json:"instance_id"`
	RecovererID     string    `json:"recoverer_id"`
	LastCheckinTime time.Time `json:"last_checkin_time"`
	FiredTriggers   int       `json:"fired_triggers"`
	Refired         int       `json:"refired"`
}

// TriggerRecoveredPayload — судьба одного эпизода упавшего инстанса.
type TriggerRecoveredPayload struct {
	FailedInstanceID string `json:"failed_instance_id"`
	FireInstanceID   string `json:"fire_instance_id"`
	TriggerName      string `json:"trigger_name"`
	TriggerGroup     string `json:"trigger_group"`
	JobName          string `json:"job_name"`
	JobGroup         string `json:"job_group"`
	Action           string `json:"action"` // refired, released или deleted

	// RecoveryTrigger — имя созданного recovery trigger (для refired).
	RecoveryTrigger string `json:"recovery_trigger,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishJobFire передаёт эпизод срабатывания исполнителям.
// Потребитель: внешние исполнители jobs.
func (p *Publisher) PublishJobFire(ctx context.Context, payload JobFirePayload) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyFire, NewMessage(MessageTypeJobFire, payload))
}

// PublishJobCompleted сообщает о завершении job.
// Потребитель: dispatcher узла.
func (p *Publisher) PublishJobCompleted(ctx context.Context, payload JobCompletedPayload) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyCompleted, NewMessage(MessageTypeJobCompleted, payload))
}

// PublishInstanceFailed сообщает о восстановленном упавшем инстансе.
func (p *Publisher) PublishInstanceFailed(ctx context.Context, payload InstanceFailedPayload) error {
	return p.Publish(ctx, ExchangeCluster, RoutingKeyInstanceFailed, NewMessage(MessageTypeInstanceFailed, payload))
}

// PublishTriggerRecovered сообщает о судьбе эпизода упавшего инстанса.
func (p *Publisher) PublishTriggerRecovered(ctx context.Context, payload TriggerRecoveredPayload) error {
	return p.Publish(ctx, ExchangeCluster, RoutingKeyTriggerRecovered, NewMessage(MessageTypeTriggerRecovered, payload))
}
