// Package memstore provides an in-memory schemas.AccountStore used by this
// repository's own tests. It is a reference implementation, never wired into a
// production path — operators supply their own store (SQL, KV, etc.) against
// the schemas.AccountStore interface.
package memstore

import (
	"fmt"
	"sync"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// MapAccountStore is a mutex-guarded map-backed AccountStore.
type MapAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*schemas.Account
}

func New() *MapAccountStore {
	return &MapAccountStore{accounts: make(map[string]*schemas.Account)}
}

func (m *MapAccountStore) Get(id string) (*schemas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("memstore: account %q not found", id)
	}
	cp := *acc
	return &cp, nil
}

func (m *MapAccountStore) Save(account *schemas.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("memstore: account must have a non-empty ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}
