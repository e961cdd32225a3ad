// Package cluster реализует координацию инстансов планировщика,
// работающих над одним хранилищем.
//
// Coordinator периодически:
//  1. Под STATE_ACCESS пишет check-in своего инстанса (scheduler_state).
//  2. Ищет упавшие инстансы: now - last_checkin > checkin_interval * threshold.
//  3. Под TRIGGER_ACCESS и STATE_ACCESS забирает каждый упавший инстанс
//     (маркер recoverer_id) и разбирает его fired_triggers:
//     EXECUTING с requests_recovery перезапускается через recovery trigger,
//     ACQUIRED возвращается в WAITING, stateful jobs разблокируются.
//  4. Удаляет запись живости упавшего инстанса.
//
// Захват и разбор каждого инстанса фиксируются отдельными транзакциями,
// пока блокировки держатся. Ключ recovery trigger детерминирован
// (recover_<instance>_<fire_instance_id>), так что повторный разбор после
// сбоя не создаёт второго перезапуска.
//
// Использование:
//
//	coord := cluster.New(cluster.Config{
//	    Stores:          stores,
//	    Semaphore:       sem,
//	    InstanceID:      "node-1",
//	    CheckinInterval: 7500 * time.Millisecond,
//	    Publisher:       publisher, // опционально
//	    Logger:          logger,
//	})
//
//	if err := coord.Start(ctx); err != nil {
//	    return err
//	}
//	defer coord.Stop(context.Background())
package cluster
