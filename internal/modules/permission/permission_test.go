package permission

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dwebshell/core/internal/domain/module"
	"github.com/dwebshell/core/internal/domain/registry"
	"github.com/dwebshell/core/internal/ipc"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStorePolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		requester string
		target    string
		allowed   bool
	}{
		{"auto grant", Policy{AutoGrant: true}, "a.dweb", "b.dweb", true},
		{"no auto grant", Policy{}, "a.dweb", "b.dweb", false},
		{"denied requester", Policy{AutoGrant: true, Deny: []string{"a.dweb"}}, "a.dweb", "b.dweb", false},
		{"denied target", Policy{AutoGrant: true, Deny: []string{"b.dweb"}}, "a.dweb", "b.dweb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(tt.policy)
			allowed, reason := s.Request(tt.requester, tt.target, "file://b.dweb/x")
			assert.Equal(t, tt.allowed, allowed, reason)
			assert.Equal(t, tt.allowed, s.Check(tt.requester, tt.target))

			audit := s.Audit("", 0)
			require.Len(t, audit, 1)
			assert.Equal(t, tt.allowed, audit[0].Allowed)
			assert.Equal(t, "file://b.dweb/x", audit[0].URL)
		})
	}
}

func TestStoreExplicitGrants(t *testing.T) {
	s := NewStore(Policy{})

	s.Grant("b.dweb", "x.dweb")
	s.Grant("a.dweb", "y.dweb")
	s.Grant("a.dweb", "x.dweb")

	allowed, reason := s.Request("a.dweb", "x.dweb", "")
	assert.True(t, allowed)
	assert.Equal(t, "already granted", reason)

	list := s.List("")
	require.Len(t, list, 3)
	assert.Equal(t, "a.dweb", list[0].Requester)
	assert.Equal(t, "x.dweb", list[0].Target)
	assert.Len(t, s.List("b.dweb"), 1)

	assert.True(t, s.Revoke("a.dweb", "x.dweb"))
	assert.False(t, s.Revoke("a.dweb", "x.dweb"))
	assert.False(t, s.Check("a.dweb", "x.dweb"))
}

func TestStoreAuditIsBounded(t *testing.T) {
	s := NewStore(Policy{AutoGrant: true})
	for i := 0; i < maxAuditEntries+10; i++ {
		s.Request("a.dweb", "b.dweb", "")
	}
	assert.Len(t, s.Audit("", 0), maxAuditEntries)
	assert.Len(t, s.Audit("a.dweb", 5), 5)
	assert.Empty(t, s.Audit("c.dweb", 0))
}

// secureModule answers 401 until its caller has been granted access.
func secureModule(store *Store) module.Factory {
	m := types.Manifest{ID: "secure.dweb", Name: "secure"}
	routes := module.NewRouter()
	routes.HandleFunc("/x", func(ctx context.Context, s *ipc.Session, req *ipc.Request) (*ipc.Response, error) {
		if !store.Check(s.Remote().ID, s.Local().ID) {
			return ipc.ErrorResponse(req, http.StatusUnauthorized, "permission required"), nil
		}
		return ipc.NewResponse(req, http.StatusOK, []byte("secret")), nil
	})
	return module.NewFactory(m, func() module.Module { return &module.Simple{Info: m, Routes: routes} })
}

func TestPermissionRoundThroughRegistry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, tt := range []struct {
		name   string
		policy Policy
		status int
	}{
		{"granted", Policy{AutoGrant: true}, http.StatusOK},
		{"denied", Policy{AutoGrant: true, Deny: []string{"secure.dweb"}}, http.StatusUnauthorized},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := registry.New(registry.DefaultOptions(), zaptest.NewLogger(t), nil)
			defer r.Shutdown(context.Background())

			store := NewStore(tt.policy)
			caller := types.Manifest{ID: "caller.dweb"}
			require.NoError(t, r.Install(NewFactory(store)))
			require.NoError(t, r.Install(secureModule(store)))
			require.NoError(t, r.Install(module.NewFactory(caller, func() module.Module { return &module.Simple{Info: caller} })))

			resp, err := r.Fetch(ctx, "caller.dweb", ipc.NewRequest("GET", "file://secure.dweb/x", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)

			audit := store.Audit("caller.dweb", 0)
			require.Len(t, audit, 1)
			assert.Equal(t, "secure.dweb", audit[0].Target)
		})
	}
}

func TestPermissionRoutes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := registry.New(registry.DefaultOptions(), zaptest.NewLogger(t), nil)
	defer r.Shutdown(context.Background())
	store := NewStore(Policy{})
	caller := types.Manifest{ID: "caller.dweb"}
	require.NoError(t, r.Install(NewFactory(store)))
	require.NoError(t, r.Install(module.NewFactory(caller, func() module.Module { return &module.Simple{Info: caller} })))

	fetch := func(path string) *ipc.Response {
		t.Helper()
		resp, err := r.Fetch(ctx, "caller.dweb", ipc.NewRequest("GET", "file://permission.std.dweb"+path, nil))
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, http.StatusBadRequest, fetch("/grant?requester=a.dweb").Status)
	assert.Equal(t, http.StatusForbidden, fetch("/request?requester=a.dweb&target=b.dweb").Status)
	assert.Equal(t, http.StatusOK, fetch("/grant?requester=a.dweb&target=b.dweb").Status)

	var check map[string]bool
	require.NoError(t, fetch("/check?requester=a.dweb&target=b.dweb").DecodeJSON(&check))
	assert.True(t, check["granted"])

	var list []Entry
	require.NoError(t, fetch("/list").DecodeJSON(&list))
	assert.Len(t, list, 1)

	var audit []AuditEntry
	require.NoError(t, fetch("/audit?limit=10").DecodeJSON(&audit))
	require.Len(t, audit, 1)
	assert.False(t, audit[0].Allowed)
	assert.Equal(t, http.StatusBadRequest, fetch("/audit?limit=x").Status)

	var revoked map[string]bool
	require.NoError(t, fetch("/revoke?requester=a.dweb&target=b.dweb").DecodeJSON(&revoked))
	assert.True(t, revoked["revoked"])
}
