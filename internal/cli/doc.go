// Package cli реализует инструмент командной строки jobstore.
//
// # Обзор
//
// CLI — клиентская утилита для диагностики кластера через HTTP API узла.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API узла. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8090")
//	instances, err := client.ListInstances()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: jobstore fired list --json | jq .
//
// ## Commands
//
//   - instances list
//   - fired list [--instance ID | --job group.name]
//   - recover
//
// Фабричные функции (NewInstancesCmd и т.д.) принимают clientFn и
// outputFn — замыкания для ленивого создания Client и Output после
// парсинга PersistentFlags.
package cli
