// Package api содержит HTTP API диагностики кластера.
//
// Структура:
//   - handler.go         — Handler с DI (кластер, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects
//   - cluster_handler.go — обработчики для /cluster
//
// API показывает записи живости и эпизоды срабатывания и позволяет
// запустить цикл восстановления вручную.
package api
