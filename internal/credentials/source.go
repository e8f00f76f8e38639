// Package credentials keeps the metered API credential list in sync and
// pushes ecash tokens into a credential's balance.
package credentials

import (
	"sync"

	"walletd/internal/core"
	"walletd/pkg/telemetry"
)

// ChangeListener is called after every update to the credential list
type ChangeListener func(creds []core.Credential)

// Source is the live credential list. It implements core.ICredentialSource.
type Source struct {
	mu        sync.RWMutex
	creds     []core.Credential
	listeners []ChangeListener
}

func NewSource(initial []core.Credential) *Source {
	return &Source{creds: append([]core.Credential(nil), initial...)}
}

// OnChange registers a listener for list updates
func (s *Source) OnChange(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Source) Credentials() []core.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Credential(nil), s.creds...)
}

// Find returns the credential with id, if present
func (s *Source) Find(id string) (core.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.creds {
		if c.ID == id {
			return c, true
		}
	}
	return core.Credential{}, false
}

// Update replaces one credential by id, appending it when unknown
func (s *Source) Update(cred core.Credential) {
	s.mu.Lock()
	replaced := false
	for i := range s.creds {
		if s.creds[i].ID == cred.ID {
			s.creds[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		s.creds = append(s.creds, cred)
	}
	snapshot := append([]core.Credential(nil), s.creds...)
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.Unlock()

	telemetry.GetGlobalMetrics().SetCredentialBalance(cred.ID, cred.BalanceMsats)
	for _, l := range listeners {
		l(snapshot)
	}
}
