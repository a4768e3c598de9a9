package account

import (
	"sync"

	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// EventSink receives system events produced by registry mutations. The
// event recorder satisfies it; tests supply a fake.
type EventSink interface {
	RecordSystem(message string, details map[string]interface{}) *events.Event
}

// Registry is the set of known accounts, keyed by email. Membership is
// guarded by the registry lock; per-account health is guarded by each
// account's own lock.
type Registry struct {
	mu       sync.RWMutex
	accounts []*Account
	index    map[string]*Account

	store  *FileStore
	events EventSink

	// removeHooks run after an account leaves the registry, outside the
	// registry lock (router pin cascade)
	removeHooks []func(email string)
}

// NewRegistry creates a registry backed by the given store. A nil sink
// disables system events.
func NewRegistry(store *FileStore, events EventSink) *Registry {
	return &Registry{
		accounts: make([]*Account, 0),
		index:    make(map[string]*Account),
		store:    store,
		events:   events,
	}
}

// Load reads accounts from the credential store, replacing the current set
func (r *Registry) Load() error {
	accounts, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.accounts = accounts
	r.index = make(map[string]*Account, len(accounts))
	for _, acc := range accounts {
		r.index[acc.Email] = acc
	}
	r.mu.Unlock()

	utils.Info("[Registry] Loaded %d account(s)", len(accounts))
	return nil
}

// Reload rereads the credential store and merges the desktop app identity
// when its state database is present. Existing in-memory health state for
// accounts that survive the reload is preserved.
func (r *Registry) Reload() error {
	fresh, err := r.store.Load()
	if err != nil {
		return err
	}

	if imported, err := ImportFromStateDB(""); err != nil {
		utils.Warn("[Registry] State database import skipped: %v", err)
	} else if imported != nil {
		found := false
		for _, acc := range fresh {
			if acc.Email == imported.Email {
				found = true
				break
			}
		}
		if !found {
			fresh = append(fresh, imported)
			utils.Info("[Registry] Imported account %s from state database", imported.Email)
		}
	}

	r.mu.Lock()
	// Carry health over for accounts present before and after
	for _, acc := range fresh {
		if prev, ok := r.index[acc.Email]; ok {
			acc.Health = prev.HealthSnapshot()
			acc.LastUsed = prev.LastUsed
		}
	}
	r.accounts = fresh
	r.index = make(map[string]*Account, len(fresh))
	for _, acc := range fresh {
		r.index[acc.Email] = acc
	}
	r.mu.Unlock()

	r.emitSystem("Accounts reloaded from credential store", map[string]interface{}{
		"count": len(fresh),
	})
	return nil
}

// List returns all accounts in insertion order
func (r *Registry) List() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Account, len(r.accounts))
	copy(result, r.accounts)
	return result
}

// Get returns the account with the given email, or nil
func (r *Registry) Get(email string) *Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[email]
}

// Count returns the number of accounts
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Add inserts a new account. Adding an existing email is an error; email is
// immutable once created.
func (r *Registry) Add(acc *Account) error {
	r.mu.Lock()
	if _, exists := r.index[acc.Email]; exists {
		r.mu.Unlock()
		return errors.NewRouterError("Account "+acc.Email+" already exists", "ACCOUNT_EXISTS", false, nil)
	}
	r.accounts = append(r.accounts, acc)
	r.index[acc.Email] = acc
	r.mu.Unlock()

	if err := r.Save(); err != nil {
		utils.Warn("[Registry] Failed to persist accounts: %v", err)
	}
	r.emitSystem("Account "+acc.Email+" added", map[string]interface{}{"email": acc.Email})
	return nil
}

// Remove deletes an account and all its health records, then runs the
// remove hooks (outside the registry lock)
func (r *Registry) Remove(email string) error {
	r.mu.Lock()
	acc, exists := r.index[email]
	if !exists {
		r.mu.Unlock()
		return errors.NewNotFoundError("Account " + email + " not found")
	}
	for i, a := range r.accounts {
		if a == acc {
			r.accounts = append(r.accounts[:i], r.accounts[i+1:]...)
			break
		}
	}
	delete(r.index, email)
	hooks := make([]func(string), len(r.removeHooks))
	copy(hooks, r.removeHooks)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(email)
	}

	if err := r.Save(); err != nil {
		utils.Warn("[Registry] Failed to persist accounts: %v", err)
	}
	r.emitSystem("Account "+email+" removed", map[string]interface{}{"email": email})
	return nil
}

// SetEnabled flips the enabled flag and emits a system event
func (r *Registry) SetEnabled(email string, enabled bool) error {
	r.mu.Lock()
	acc, exists := r.index[email]
	if !exists {
		r.mu.Unlock()
		return errors.NewNotFoundError("Account " + email + " not found")
	}
	acc.Mu.Lock()
	acc.Enabled = enabled
	acc.Mu.Unlock()
	r.mu.Unlock()

	if err := r.Save(); err != nil {
		utils.Warn("[Registry] Failed to persist accounts: %v", err)
	}

	action := "disabled"
	if enabled {
		action = "enabled"
	}
	r.emitSystem("Account "+email+" "+action, map[string]interface{}{
		"email":   email,
		"enabled": enabled,
	})
	return nil
}

// OnRemove registers a hook invoked after an account is removed
func (r *Registry) OnRemove(hook func(email string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeHooks = append(r.removeHooks, hook)
}

// Save persists the current account set to the credential store
func (r *Registry) Save() error {
	r.mu.RLock()
	accounts := make([]*Account, len(r.accounts))
	copy(accounts, r.accounts)
	r.mu.RUnlock()
	return r.store.Save(accounts)
}

func (r *Registry) emitSystem(message string, details map[string]interface{}) {
	if r.events != nil {
		r.events.RecordSystem(message, details)
	}
}
