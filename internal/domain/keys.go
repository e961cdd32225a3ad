package domain

import (
	"fmt"
	"strings"
)

// DefaultGroup — группа по умолчанию для ключей jobs и triggers.
const DefaultGroup = "DEFAULT"

// RecoveringJobsGroup — группа, в которую попадают triggers,
// созданные при восстановлении jobs упавшего инстанса.
const RecoveringJobsGroup = "RECOVERING_JOBS"

// JobKey — составной идентификатор job (имя + группа).
type JobKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewJobKey создаёт JobKey. Пустая группа заменяется на DefaultGroup.
func NewJobKey(name, group string) JobKey {
	if group == "" {
		group = DefaultGroup
	}
	return JobKey{Name: name, Group: group}
}

// String возвращает ключ в формате "group.name".
func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// IsZero возвращает true для пустого ключа.
func (k JobKey) IsZero() bool {
	return k.Name == "" && k.Group == ""
}

// ParseJobKey разбирает строку "group.name".
// Строка без точки трактуется как имя в группе DEFAULT.
func ParseJobKey(s string) (JobKey, error) {
	group, name, ok := strings.Cut(s, ".")
	if !ok {
		name, group = s, DefaultGroup
	}
	if name == "" || group == "" {
		return JobKey{}, fmt.Errorf("invalid job key %q", s)
	}
	return JobKey{Name: name, Group: group}, nil
}

// TriggerKey — составной идентификатор trigger (имя + группа).
type TriggerKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewTriggerKey создаёт TriggerKey. Пустая группа заменяется на DefaultGroup.
func NewTriggerKey(name, group string) TriggerKey {
	if group == "" {
		group = DefaultGroup
	}
	return TriggerKey{Name: name, Group: group}
}

// String возвращает ключ в формате "group.name".
func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}
