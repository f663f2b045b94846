package openbao

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// maxErrorBody caps how much of a response body is echoed into errors.
const maxErrorBody = 512

func (c *Client) newRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.namespace != "" {
		req.Header.Set(constants.HeaderVaultNamespace, c.namespace)
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%s: %w", op, err)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		if operatorerrors.IsTransientConnection(err) {
			return nil, operatorerrors.WrapTransientConnection(wrapped)
		}
		return nil, wrapped
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (c *Client) doAndReadAll(req *http.Request, op string) (*http.Response, []byte, error) {
	resp, err := c.doRequest(req, op)
	if err != nil {
		return nil, nil, err
	}

	defer drainAndClose(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, operatorerrors.WrapTransientConnection(
			fmt.Errorf("%s: failed to read response body: %w", op, err),
		)
	}
	return resp, body, nil
}

// classifyStatus maps a non-2xx response onto the store error taxonomy.
func classifyStatus(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := fmt.Errorf("%s: OpenBao returned status %d: %s", op, status, body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return operatorerrors.WrapStoreAuthentication(err)
	case status == http.StatusNotFound:
		return operatorerrors.WrapStoreNotFound(err)
	case status == http.StatusTooManyRequests || status >= 500:
		return operatorerrors.WrapTransientRemoteServer(err)
	default:
		return operatorerrors.WrapStoreProtocol(err)
	}
}
