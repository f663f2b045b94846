// Package awssecrets implements the AWS Secrets Manager secret store backend.
package awssecrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// API is the subset of the Secrets Manager client used by Backend.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Config holds configuration for creating a Secrets Manager backend.
type Config struct {
	// Region is the AWS region (e.g., "eu-west-1").
	Region string
	// AccessKeyID is the access key for authentication. If empty, the default credential chain is used.
	AccessKeyID string
	// SecretAccessKey is the secret key for authentication.
	SecretAccessKey string
	// SessionToken is an optional session token for temporary credentials.
	SessionToken string
	// RequestTimeout bounds each request. Defaults to constants.StoreRequestTimeout.
	RequestTimeout time.Duration
}

// Backend reads secret values from AWS Secrets Manager.
type Backend struct {
	api API
}

// NewBackend builds a Secrets Manager backend from cfg. The SDK's own retryer
// is disabled; retries are owned by the calling store client.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	api := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		o.Retryer = aws.NopRetryer{}
	})
	return NewBackendWithAPI(api), nil
}

// NewBackendWithAPI wraps an existing Secrets Manager client.
func NewBackendWithAPI(api API) *Backend {
	return &Backend{api: api}
}

// buildAWSConfig constructs AWS SDK config with static credentials and a bounded HTTP client.
func buildAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region == "" {
		return aws.Config{}, operatorerrors.WrapPermanentConfig(fmt.Errorf("region is required for Secrets Manager client"))
	}
	opts = append(opts, config.WithRegion(cfg.Region))

	if (cfg.AccessKeyID != "") != (cfg.SecretAccessKey != "") {
		return aws.Config{}, operatorerrors.WrapPermanentConfig(
			fmt.Errorf("access key id and secret access key must be provided together"))
	}
	if cfg.AccessKeyID != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = constants.StoreRequestTimeout
	}
	opts = append(opts, config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)))

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		if operatorerrors.IsTransientConnection(err) {
			return aws.Config{}, operatorerrors.WrapTransientConnection(fmt.Errorf("failed to load AWS config: %w", err))
		}
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// GetSecret returns the value of a secret.
//
// name has the form "secret-id#key". Without a key the whole SecretString is
// returned; with a key the SecretString is decoded as a JSON object and the
// key's value is returned.
func (b *Backend) GetSecret(ctx context.Context, name string) (string, error) {
	id, key := splitReference(name)
	if id == "" {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("empty secret reference %q", name))
	}

	out, err := b.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", classify(fmt.Sprintf("get secret value %q", id), err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = aws.ToString(out.SecretString)
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	default:
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("secret %q has no value", id))
	}

	if key == "" {
		return value, nil
	}
	return extractKey(id, key, value)
}

func splitReference(name string) (id string, key string) {
	ref := strings.TrimSpace(name)
	if i := strings.LastIndex(ref, "#"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func extractKey(id, key, value string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("secret %q is not a JSON object: %w", id, err))
	}
	raw, ok := fields[key]
	if !ok {
		return "", operatorerrors.WrapStoreNotFound(fmt.Errorf("key %q not present in secret %q", key, id))
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", operatorerrors.WrapStoreProtocol(fmt.Errorf("failed to encode key %q: %w", key, err))
	}
	return string(encoded), nil
}

var authErrorCodes = map[string]struct{}{
	"AccessDeniedException":       {},
	"UnrecognizedClientException": {},
	"InvalidSignatureException":   {},
	"ExpiredTokenException":       {},
	"InvalidClientTokenId":        {},
	"SignatureDoesNotMatch":       {},
}

var serverErrorCodes = map[string]struct{}{
	"InternalServiceError": {},
	"InternalFailure":      {},
	"ServiceUnavailable":   {},
	"ThrottlingException":  {},
}

// classify maps SDK errors onto the store error taxonomy.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return operatorerrors.WrapStoreNotFound(wrapped)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := authErrorCodes[apiErr.ErrorCode()]; ok {
			return operatorerrors.WrapStoreAuthentication(wrapped)
		}
		if _, ok := serverErrorCodes[apiErr.ErrorCode()]; ok {
			return operatorerrors.WrapTransientRemoteServer(wrapped)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == 401 || status == 403:
			return operatorerrors.WrapStoreAuthentication(wrapped)
		case status == 404:
			return operatorerrors.WrapStoreNotFound(wrapped)
		case status == 429 || status >= 500:
			return operatorerrors.WrapTransientRemoteServer(wrapped)
		}
	}

	if operatorerrors.IsTransientConnection(err) {
		return operatorerrors.WrapTransientConnection(wrapped)
	}
	return operatorerrors.WrapStoreProtocol(wrapped)
}
