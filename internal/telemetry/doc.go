// Package telemetry обеспечивает наблюдаемость узла.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики кластерной координации
//
// Узел экспортирует метрики на /metrics endpoint.
package telemetry
