// Package openbao implements the OpenBao (and Vault) KV version 2 secret store backend.
package openbao

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// DefaultConnectionTimeout is the default timeout for establishing TLS connections.
const DefaultConnectionTimeout = 5 * time.Second

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	// BaseURL is the OpenBao API URL (e.g., "https://bao.example.com:8200").
	// A bare host is treated as https.
	BaseURL string
	// Mount is the KV version 2 mount path. Defaults to constants.DefaultKVMount.
	Mount string
	// RoleID and SecretID are the AppRole credentials.
	RoleID   string
	SecretID string
	// Namespace is sent as X-Vault-Namespace when set.
	Namespace string
	// RequestTimeout bounds each request. Defaults to constants.StoreRequestTimeout.
	RequestTimeout time.Duration
	// HTTPClient overrides the constructed client. Used by tests.
	HTTPClient *http.Client
}

// Client reads KV version 2 entries, logging in with AppRole on first use and
// again whenever the server rejects the cached token.
type Client struct {
	baseURL    string
	mount      string
	roleID     string
	secretID   string
	namespace  string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a new OpenBao KV client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if config.RoleID == "" || config.SecretID == "" {
		return nil, fmt.Errorf("roleID and secretID are required for AppRole authentication")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL %q: %w", config.BaseURL, err)
	}

	mount := strings.Trim(config.Mount, "/")
	if mount == "" {
		mount = constants.DefaultKVMount
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		requestTimeout := config.RequestTimeout
		if requestTimeout == 0 {
			requestTimeout = constants.StoreRequestTimeout
		}

		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if parsedURL.Hostname() != "" {
			tlsConfig.ServerName = parsedURL.Hostname()
		}

		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     tlsConfig,
				TLSHandshakeTimeout: DefaultConnectionTimeout,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: requestTimeout,
		}
	}

	return &Client{
		baseURL:    baseURL,
		mount:      mount,
		roleID:     config.RoleID,
		secretID:   config.SecretID,
		namespace:  config.Namespace,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the normalized OpenBao address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AppRoleLoginResponse represents the response from POST /v1/auth/approle/login.
type AppRoleLoginResponse struct {
	Auth struct {
		ClientToken   string `json:"client_token"`
		LeaseDuration int    `json:"lease_duration"`
		Renewable     bool   `json:"renewable"`
	} `json:"auth"`
}

// Login authenticates with AppRole and caches the returned client token.
func (c *Client) Login(ctx context.Context) (string, error) {
	bodyBytes, err := json.Marshal(map[string]string{
		"role_id":   c.roleID,
		"secret_id": c.secretID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal AppRole login request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, constants.APIPathAppRoleLogin, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create AppRole login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, respBody, err := c.doAndReadAll(req, "failed to execute AppRole login request")
	if err != nil {
		return "", err
	}

	// AppRole answers 400 for an unknown role_id or a bad secret_id.
	if resp.StatusCode == http.StatusBadRequest {
		return "", operatorerrors.WrapStoreAuthentication(
			fmt.Errorf("AppRole login rejected (status %d): %s", resp.StatusCode, respBody),
		)
	}
	if err := classifyStatus("AppRole login", resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var loginResp AppRoleLoginResponse
	if err := json.Unmarshal(respBody, &loginResp); err != nil {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("failed to parse AppRole login response: %w", err))
	}
	if loginResp.Auth.ClientToken == "" {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("AppRole login response missing client_token"))
	}

	c.mu.Lock()
	c.token = loginResp.Auth.ClientToken
	c.mu.Unlock()

	return loginResp.Auth.ClientToken, nil
}

// kvReadResponse represents the response from GET /v1/<mount>/data/<path>.
type kvReadResponse struct {
	Data struct {
		Data     map[string]any `json:"data"`
		Metadata struct {
			Version int `json:"version"`
		} `json:"metadata"`
	} `json:"data"`
}

// GetSecret returns one field of a KV version 2 entry.
//
// name has the form "path/to/entry#field"; without a field suffix the
// constants.DefaultKVField field is read. Non-string field values are returned
// as their JSON encoding.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	path, field, err := ParseReference(name)
	if err != nil {
		return "", err
	}

	token, fresh, err := c.currentToken(ctx)
	if err != nil {
		return "", err
	}

	value, err := c.read(ctx, token, path, field)
	if err != nil && operatorerrors.IsStoreAuthentication(err) && !fresh {
		// The cached token may have expired; log in again once.
		c.clearToken(token)
		if token, err = c.Login(ctx); err != nil {
			return "", err
		}
		return c.read(ctx, token, path, field)
	}
	return value, err
}

func (c *Client) read(ctx context.Context, token, path, field string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf(constants.APIPathKVDataFormat, c.mount, path), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create KV read request: %w", err)
	}
	req.Header.Set(constants.HeaderVaultToken, token)

	resp, respBody, err := c.doAndReadAll(req, "failed to execute KV read request")
	if err != nil {
		return "", err
	}
	if err := classifyStatus(fmt.Sprintf("read %s/%s", c.mount, path), resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var kv kvReadResponse
	if err := json.Unmarshal(respBody, &kv); err != nil {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("failed to parse KV read response: %w", err))
	}

	raw, ok := kv.Data.Data[field]
	if !ok {
		return "", operatorerrors.WrapStoreNotFound(fmt.Errorf("field %q not present in %s/%s", field, c.mount, path))
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("failed to encode field %q: %w", field, err))
	}
	return string(encoded), nil
}

// currentToken returns the cached token, logging in when none is held.
// fresh reports whether the token was obtained by this call.
func (c *Client) currentToken(ctx context.Context) (token string, fresh bool, err error) {
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	if token != "" {
		return token, false, nil
	}
	token, err = c.Login(ctx)
	return token, true, err
}

func (c *Client) clearToken(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
	}
}

// ParseReference splits "path#field" into an escaped KV path and a field name.
func ParseReference(name string) (path string, field string, err error) {
	ref := strings.Trim(strings.TrimSpace(name), "/")
	field = constants.DefaultKVField
	if i := strings.LastIndex(ref, "#"); i >= 0 {
		if f := ref[i+1:]; f != "" {
			field = f
		}
		ref = strings.Trim(ref[:i], "/")
	}
	if ref == "" {
		return "", "", operatorerrors.WrapStoreProtocol(fmt.Errorf("empty secret reference %q", name))
	}

	segments := strings.Split(ref, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/"), field, nil
}
