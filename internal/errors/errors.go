package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Transient errors indicate temporary conditions that should be retried.

// ErrTransientConnection indicates a transient connection error that should be retried.
// This includes timeouts, connection refused, DNS resolution failures, and network unreachable errors.
var ErrTransientConnection = errors.New("transient connection error")

// ErrTransientKubernetesAPI indicates a transient Kubernetes API error that should be retried.
// This includes rate limiting, temporary server errors, and network issues.
var ErrTransientKubernetesAPI = errors.New("transient Kubernetes API error")

// ErrTransientRemoteServer indicates a 5xx-class response from an external secret store.
// Store clients retry these with bounded backoff.
var ErrTransientRemoteServer = errors.New("transient remote server error")

// Secret store faults. These are not retried; authentication and protocol
// faults count toward the store client's circuit breaker.

// ErrStoreAuthentication indicates the store rejected the supplied credentials.
var ErrStoreAuthentication = errors.New("secret store authentication failed")

// ErrStoreProtocol indicates an unexpected store response (4xx other than
// auth/not-found, or an undecodable body).
var ErrStoreProtocol = errors.New("secret store protocol error")

// ErrStoreNotFound indicates the requested secret does not exist in the store.
var ErrStoreNotFound = errors.New("secret not found in store")

// ErrCircuitOpen is returned without contacting the store while a client's breaker is open.
var ErrCircuitOpen = errors.New("secret store circuit breaker is open")

// Permanent errors indicate configuration or state issues that require user intervention.

// ErrPermanentConfig indicates a permanent configuration error that requires user intervention.
// This includes invalid configuration values, missing required fields, or incompatible settings.
var ErrPermanentConfig = errors.New("permanent configuration error")

// ErrCRDMissing indicates the custom resource definition backing the watched type is not registered.
var ErrCRDMissing = errors.New("custom resource definition not registered")

// ErrWatchExhausted indicates the watch stream could not be re-established within MaxReconnectAttempts tries.
var ErrWatchExhausted = errors.New("watch reconnect attempts exhausted")

// IsTransientConnection checks if an error is a transient connection error.
// This includes network timeouts, connection refused, DNS failures, and similar issues.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientConnection) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"context deadline exceeded",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"connection closed",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsTransientKubernetesAPI checks if an error is a transient Kubernetes API error.
func IsTransientKubernetesAPI(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientKubernetesAPI) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"rate limit",
		"too many requests",
		"server error",
		"service unavailable",
		"internal server error",
		"context deadline exceeded",
		"timeout",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsTransientRemoteServer reports whether err is a retryable store fault:
// a 5xx-class response or a transient connection failure.
func IsTransientRemoteServer(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientRemoteServer) || IsTransientConnection(err)
}

// IsStoreAuthentication reports whether err is a store authentication fault.
func IsStoreAuthentication(err error) bool {
	return err != nil && errors.Is(err, ErrStoreAuthentication)
}

// IsStoreNotFound reports whether err indicates a missing store secret.
func IsStoreNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrStoreNotFound)
}

// IsCircuitOpen reports whether err was produced by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return err != nil && errors.Is(err, ErrCircuitOpen)
}

// CountsTowardCircuit reports whether a store fault should be recorded as a
// breaker failure. Not-found answers and caller cancellation are valid outcomes.
func CountsTowardCircuit(err error) bool {
	if err == nil || IsStoreNotFound(err) || IsCircuitOpen(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// WrapTransientConnection wraps an error as a transient connection error.
// If the error is already a transient connection error, it is returned as-is.
func WrapTransientConnection(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientConnection(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientConnection, err)
}

// WrapTransientKubernetesAPI wraps an error as a transient Kubernetes API error.
func WrapTransientKubernetesAPI(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientKubernetesAPI(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientKubernetesAPI, err)
}

// WrapTransientRemoteServer wraps an error as a 5xx-class store fault.
func WrapTransientRemoteServer(err error) error {
	return wrap(ErrTransientRemoteServer, err)
}

// WrapStoreAuthentication wraps an error as a store authentication fault.
func WrapStoreAuthentication(err error) error {
	return wrap(ErrStoreAuthentication, err)
}

// WrapStoreProtocol wraps an error as a store protocol fault.
func WrapStoreProtocol(err error) error {
	return wrap(ErrStoreProtocol, err)
}

// WrapStoreNotFound wraps an error as a missing store secret.
func WrapStoreNotFound(err error) error {
	return wrap(ErrStoreNotFound, err)
}

// WrapPermanentConfig wraps an error as a permanent configuration error.
func WrapPermanentConfig(err error) error {
	return wrap(ErrPermanentConfig, err)
}

func wrap(sentinel, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// IsTransient checks if an error is transient (should be retried).
// Returns true for transient connection, Kubernetes API or remote server errors.
func IsTransient(err error) bool {
	return IsTransientConnection(err) || IsTransientKubernetesAPI(err) || IsTransientRemoteServer(err)
}

// IsPermanent checks if an error is permanent (requires user intervention).
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrPermanentConfig) || errors.Is(err, ErrCRDMissing) || errors.Is(err, ErrWatchExhausted)
}

// IsCRDMissingError checks if an error indicates that a CRD is not installed.
func IsCRDMissingError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCRDMissing) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no matches for kind") ||
		strings.Contains(errStr, "no kind is registered for the type") ||
		strings.Contains(errStr, "could not find the requested resource")
}

// WrapCRDMissing wraps an error as ErrCRDMissing when it indicates a missing CRD.
func WrapCRDMissing(err error) error {
	if err == nil {
		return nil
	}

	if IsCRDMissingError(err) {
		return wrap(ErrCRDMissing, err)
	}

	return err
}
