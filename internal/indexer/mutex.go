// File: internal/indexer/mutex.go
package indexer

import (
	"sync"
)

// keyedMutex serializes work per key. Entries are retained for the life of
// the process; the key space is the set of account addresses actually
// touched, which stays small.
type keyedMutex struct {
	locks sync.Map // string -> *sync.Mutex
}

func (k *keyedMutex) Lock(key string) {
	mu, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

func (k *keyedMutex) Unlock(key string) {
	mu, ok := k.locks.Load(key)
	if !ok {
		return
	}
	mu.(*sync.Mutex).Unlock()
}
