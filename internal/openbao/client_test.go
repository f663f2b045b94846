package openbao

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

type fakeBao struct {
	logins    atomic.Int32
	reads     atomic.Int32
	validTok  atomic.Value
	namespace atomic.Value
	readCode  int
	loginCode int
	entries   map[string]map[string]any
}

func newFakeBao(t *testing.T) (*fakeBao, *httptest.Server) {
	t.Helper()
	f := &fakeBao{
		entries: map[string]map[string]any{
			"app/db": {"value": "s3cret", "user": "admin", "port": 5432},
		},
	}
	f.validTok.Store("tok-1")
	f.namespace.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc(constants.APIPathAppRoleLogin, func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		f.namespace.Store(r.Header.Get(constants.HeaderVaultNamespace))
		if f.loginCode != 0 {
			w.WriteHeader(f.loginCode)
			_, _ = w.Write([]byte(`{"errors":["invalid role or secret ID"]}`))
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["role_id"] != "role" || body["secret_id"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"auth": map[string]any{"client_token": f.validTok.Load(), "lease_duration": 60},
		})
	})
	mux.HandleFunc("/v1/secret/data/", func(w http.ResponseWriter, r *http.Request) {
		f.reads.Add(1)
		if r.Header.Get(constants.HeaderVaultToken) != f.validTok.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		if f.readCode != 0 {
			w.WriteHeader(f.readCode)
			return
		}
		data, ok := f.entries[r.URL.Path[len("/v1/secret/data/"):]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": data, "metadata": map[string]any{"version": 3}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(t *testing.T, srv *httptest.Server, namespace string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:    srv.URL,
		RoleID:     "role",
		SecretID:   "secret",
		Namespace:  namespace,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantURL string
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  ClientConfig{BaseURL: "https://bao.example.com:8200/", RoleID: "r", SecretID: "s"},
			wantURL: "https://bao.example.com:8200",
		},
		{
			name:    "bare host defaults to https",
			config:  ClientConfig{BaseURL: "bao.example.com:8200", RoleID: "r", SecretID: "s"},
			wantURL: "https://bao.example.com:8200",
		},
		{
			name:    "empty URL",
			config:  ClientConfig{RoleID: "r", SecretID: "s"},
			wantErr: true,
		},
		{
			name:    "missing AppRole credentials",
			config:  ClientConfig{BaseURL: "https://bao.example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, c.BaseURL())
			assert.Equal(t, constants.DefaultKVMount, c.mount)
		})
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		name      string
		ref       string
		wantPath  string
		wantField string
		wantErr   bool
	}{
		{name: "default field", ref: "app/db", wantPath: "app/db", wantField: "value"},
		{name: "explicit field", ref: "app/db#user", wantPath: "app/db", wantField: "user"},
		{name: "trims slashes", ref: "/app/db/", wantPath: "app/db", wantField: "value"},
		{name: "empty field suffix", ref: "app/db#", wantPath: "app/db", wantField: "value"},
		{name: "escapes segments", ref: "app/my key", wantPath: "app/my%20key", wantField: "value"},
		{name: "empty", ref: " ", wantErr: true},
		{name: "field only", ref: "#user", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, field, err := ParseReference(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantField, field)
		})
	}
}

func TestClient_GetSecret(t *testing.T) {
	f, srv := newFakeBao(t)
	c := newTestClient(t, srv, "")
	ctx := context.Background()

	v, err := c.GetSecret(ctx, "app/db")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	v, err = c.GetSecret(ctx, "app/db#user")
	require.NoError(t, err)
	assert.Equal(t, "admin", v)

	v, err = c.GetSecret(ctx, "app/db#port")
	require.NoError(t, err)
	assert.Equal(t, "5432", v)

	assert.Equal(t, int32(1), f.logins.Load(), "token should be reused across reads")
}

func TestClient_GetSecretNotFound(t *testing.T) {
	_, srv := newFakeBao(t)
	c := newTestClient(t, srv, "")

	_, err := c.GetSecret(context.Background(), "app/missing")
	assert.True(t, operatorerrors.IsStoreNotFound(err), "got %v", err)

	_, err = c.GetSecret(context.Background(), "app/db#nope")
	assert.True(t, operatorerrors.IsStoreNotFound(err), "got %v", err)
}

func TestClient_GetSecretStatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		readCode      int
		wantTransient bool
		wantProtocol  bool
	}{
		{name: "server error is transient", readCode: http.StatusServiceUnavailable, wantTransient: true},
		{name: "throttling is transient", readCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is protocol", readCode: http.StatusBadRequest, wantProtocol: true},
		{name: "success with empty body is protocol", readCode: http.StatusOK, wantProtocol: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeBao(t)
			f.readCode = tt.readCode
			c := newTestClient(t, srv, "")

			_, err := c.GetSecret(context.Background(), "app/db")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, operatorerrors.IsTransientRemoteServer(err), "transient: %v", err)
			assert.Equal(t, tt.wantProtocol, errors.Is(err, operatorerrors.ErrStoreProtocol), "protocol: %v", err)
		})
	}
}

func TestClient_ReloginOnceAfterTokenExpiry(t *testing.T) {
	f, srv := newFakeBao(t)
	c := newTestClient(t, srv, "")
	ctx := context.Background()

	_, err := c.GetSecret(ctx, "app/db")
	require.NoError(t, err)

	f.validTok.Store("tok-2")
	v, err := c.GetSecret(ctx, "app/db")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)
	assert.Equal(t, int32(2), f.logins.Load())
}

func TestClient_LoginRejected(t *testing.T) {
	f, srv := newFakeBao(t)
	f.loginCode = http.StatusBadRequest
	c := newTestClient(t, srv, "")

	_, err := c.GetSecret(context.Background(), "app/db")
	assert.True(t, operatorerrors.IsStoreAuthentication(err), "got %v", err)
	assert.Equal(t, int32(0), f.reads.Load())
}

func TestClient_FreshTokenRejectedDoesNotLoop(t *testing.T) {
	f, srv := newFakeBao(t)
	c := newTestClient(t, srv, "")
	f.readCode = http.StatusForbidden

	_, err := c.GetSecret(context.Background(), "app/db")
	assert.True(t, operatorerrors.IsStoreAuthentication(err), "got %v", err)
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestClient_NamespaceHeader(t *testing.T) {
	f, srv := newFakeBao(t)
	c := newTestClient(t, srv, "team-a")

	_, err := c.GetSecret(context.Background(), "app/db")
	require.NoError(t, err)
	assert.Equal(t, "team-a", f.namespace.Load())
}

func TestClient_ConnectionRefusedIsTransient(t *testing.T) {
	_, srv := newFakeBao(t)
	c := newTestClient(t, srv, "")
	srv.Close()

	_, err := c.GetSecret(context.Background(), "app/db")
	require.Error(t, err)
	assert.True(t, operatorerrors.IsTransientRemoteServer(err), "got %v", err)
}

func TestClient_CanceledContext(t *testing.T) {
	_, srv := newFakeBao(t)
	c := newTestClient(t, srv, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetSecret(ctx, "app/db")
	require.Error(t, err)
	assert.False(t, operatorerrors.CountsTowardCircuit(err), "got %v", err)
}
