// Package idlock реализует взаимное исключение по строковому ключу.
// Используется для сериализации read-modify-write операций над записью
// одного подписчика: вебхук и действие пользователя могут прийти
// одновременно, и без такой блокировки возможны потерянные обновления
// или двойная выдача ключа.
package idlock

import "sync"

// KeyedMutex хранит по одному мьютексу на активный ключ.
// Записи со счётчиком ссылок удаляются, когда последний владелец
// отпускает блокировку, поэтому карта не растёт бесконечно.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// New создает новый KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*lockEntry),
	}
}

// Lock блокирует ключ key и возвращает функцию разблокировки.
//
// Пример:
//
//	unlock := locks.Lock(subscriberID)
//	defer unlock()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
