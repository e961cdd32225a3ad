// Package dispatch передаёт сработавшие triggers исполнителям через RabbitMQ.
//
// Dispatcher периодически захватывает due triggers, переводит эпизоды
// в EXECUTING и публикует job.fire. Исполнитель отвечает job.completed,
// после чего эпизод закрывается. Если инстанс упадёт между этими
// событиями, эпизод разберёт восстановление кластера.
package dispatch
