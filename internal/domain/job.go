package domain

// Job — запись job в хранилище.
//
// Job data хранится непрозрачно; сериализация — забота репозитория.
type Job struct {
	Key         JobKey `json:"key"`
	Description string `json:"description,omitempty"`

	// Stateful — выполнения job не должны пересекаться.
	Stateful bool `json:"stateful"`

	// RequestsRecovery — job перезапускается, если инстанс упал во время выполнения.
	RequestsRecovery bool `json:"requests_recovery"`

	// Durable — job остаётся в хранилище без triggers.
	Durable bool `json:"durable"`

	Volatile bool `json:"volatile,omitempty"`

	JobData map[string]any `json:"job_data,omitempty"`
}
