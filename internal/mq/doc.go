// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - job.fire           — эпизод срабатывания передан на выполнение
//   - job.completed      — исполнитель завершил job
//   - instance.failed    — инстанс признан упавшим и восстановлен
//   - trigger.recovered  — эпизод упавшего инстанса перезапущен или освобождён
//
// Exchanges:
//   - jobstore.jobs     — выполнение jobs
//   - jobstore.cluster  — события кластера
//   - jobstore.dlq      — dead letter queue
package mq
