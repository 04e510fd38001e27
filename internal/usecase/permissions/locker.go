package permissions

import (
	"context"
	"sync"
)

// KeyedLocker выдаёт взаимоисключающую блокировку на ключ внутри процесса.
// Ожидание прерывается отменой контекста.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	slot chan struct{}
	refs int
}

// NewKeyedLocker создаёт пустой набор блокировок.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock ждёт блокировку по ключу и возвращает функцию освобождения.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedEntry{slot: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.slot
				l.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *KeyedLocker) release(key string, entry *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// size возвращает число активных ключей.
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
