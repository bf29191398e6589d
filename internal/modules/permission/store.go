package permission

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
)

const maxAuditEntries = 1000

// Entry is one granted permission
type Entry struct {
	Requester string `json:"requester"`
	Target    string `json:"target"`
	GrantedAt int64  `json:"granted_at"`
}

// AuditEntry records one permission decision
type AuditEntry struct {
	Timestamp int64  `json:"timestamp"`
	Requester string `json:"requester"`
	Target    string `json:"target"`
	URL       string `json:"url,omitempty"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
}

// Policy decides requests for permissions not yet granted
type Policy struct {
	AutoGrant bool
	// Deny lists module ids that are never granted, as requester or target
	Deny []string
}

// Store keeps grants and the audit log in memory
type Store struct {
	mu     sync.RWMutex
	policy Policy
	grants map[string]Entry
	audit  []AuditEntry
}

// NewStore creates an empty store
func NewStore(policy Policy) *Store {
	return &Store{policy: policy, grants: make(map[string]Entry)}
}

func grantKey(requester, target string) string {
	return requester + ">" + target
}

// Grant records that requester may reach target
func (s *Store) Grant(requester, target string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantLocked(requester, target)
}

func (s *Store) grantLocked(requester, target string) Entry {
	e := Entry{Requester: requester, Target: target, GrantedAt: time.Now().Unix()}
	s.grants[grantKey(requester, target)] = e
	return e
}

// Revoke removes a grant and reports whether one existed
func (s *Store) Revoke(requester, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(requester, target)
	_, ok := s.grants[key]
	delete(s.grants, key)
	return ok
}

// Check reports whether requester may reach target
func (s *Store) Check(requester, target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[grantKey(requester, target)]
	return ok
}

// Request decides a permission request, granting it when policy allows
func (s *Store) Request(requester, target, url string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed, reason := s.decideLocked(requester, target)
	if allowed {
		s.grantLocked(requester, target)
	}
	s.audit = append(s.audit, AuditEntry{
		Timestamp: time.Now().Unix(),
		Requester: requester,
		Target:    target,
		URL:       url,
		Allowed:   allowed,
		Reason:    reason,
	})
	if len(s.audit) > maxAuditEntries {
		s.audit = slices.Clone(s.audit[len(s.audit)-maxAuditEntries:])
	}
	return allowed, reason
}

func (s *Store) decideLocked(requester, target string) (bool, string) {
	switch {
	case slices.Contains(s.policy.Deny, requester):
		return false, "requester denied by policy"
	case slices.Contains(s.policy.Deny, target):
		return false, "target denied by policy"
	}
	if _, ok := s.grants[grantKey(requester, target)]; ok {
		return true, "already granted"
	}
	if s.policy.AutoGrant {
		return true, "auto granted"
	}
	return false, "not granted"
}

// List returns grants, optionally only those of requester
func (s *Store) List(requester string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.grants))
	for _, e := range s.grants {
		if requester == "" || e.Requester == requester {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(strings.Compare(a.Requester, b.Requester), strings.Compare(a.Target, b.Target))
	})
	return out
}

// Audit returns the newest decisions first, at most limit of them
func (s *Store) Audit(requester string, limit int) []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if requester == "" || s.audit[i].Requester == requester {
			out = append(out, s.audit[i])
		}
	}
	return out
}
