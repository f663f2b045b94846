package secretstore

import (
	"context"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/awssecrets"
	"github.com/dc-tec/vaultsync-operator/internal/credentials"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/openbao"
)

// DefaultFactories returns the backend factories for every supported provider.
func DefaultFactories() map[secretsv1alpha1.StoreProvider]BackendFactory {
	return map[secretsv1alpha1.StoreProvider]BackendFactory{
		secretsv1alpha1.StoreProviderOpenBao: newOpenBaoBackend,
		secretsv1alpha1.StoreProviderAWS:     newAWSBackend,
	}
}

func newOpenBaoBackend(_ context.Context, ref secretsv1alpha1.StoreRef, creds credentials.StoreCredentials) (interfaces.SecretBackend, error) {
	c, err := openbao.NewClient(openbao.ClientConfig{
		BaseURL:   ref.Name,
		Mount:     ref.Mount,
		RoleID:    creds.ClientID,
		SecretID:  creds.ClientSecret,
		Namespace: creds.TenantID,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newAWSBackend(ctx context.Context, ref secretsv1alpha1.StoreRef, creds credentials.StoreCredentials) (interfaces.SecretBackend, error) {
	b, err := awssecrets.NewBackend(ctx, awssecrets.Config{
		Region:          ref.Name,
		AccessKeyID:     creds.ClientID,
		SecretAccessKey: creds.ClientSecret,
		SessionToken:    creds.TenantID,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
