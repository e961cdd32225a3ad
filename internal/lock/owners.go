package lock

import (
	"sync"
	"unique"
)

// owners — учёт владельцев для межпроцессных блокировок.
// Сама блокировка живёт в хранилище, здесь только кто её взял.
type owners struct {
	mu   sync.Mutex
	held map[unique.Handle[string]]string
}

func newOwners() *owners {
	return &owners{held: make(map[unique.Handle[string]]string)}
}

func (o *owners) isOwner(owner, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held[unique.Make(name)] == owner
}

func (o *owners) add(owner, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.held[unique.Make(name)] = owner
}

// remove снимает запись, только если name принадлежит owner.
func (o *owners) remove(owner, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := unique.Make(name)
	if current, ok := o.held[key]; !ok || current != owner {
		return false
	}
	delete(o.held, key)
	return true
}
