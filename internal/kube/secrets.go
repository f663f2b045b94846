package kube

import (
	"context"
	"fmt"
	"maps"

	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// LoadSecretData reads a Secret and returns its data decoded to strings.
// A missing Secret is reported as reconcile.NotFound.
func LoadSecretData(ctx context.Context, c interfaces.ClusterAPI, key resource.Key) reconcile.Result[map[string]string] {
	res := c.GetSecret(ctx, key)
	if !res.OK() {
		return reconcile.Result[map[string]string]{Outcome: res.Outcome, Err: res.Err}
	}
	return reconcile.Success(DecodeSecretData(res.Value))
}

// DecodeSecretData converts Secret data and stringData into a string map.
// stringData wins on key collision, matching API server write semantics.
func DecodeSecretData(secret *corev1.Secret) map[string]string {
	out := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		out[k] = string(v)
	}
	maps.Copy(out, secret.StringData)
	return out
}

// RequireFields returns an error naming the first of fields missing from data.
func RequireFields(key resource.Key, data map[string]string, fields ...string) error {
	for _, f := range fields {
		if _, ok := data[f]; !ok {
			return fmt.Errorf("credentials Secret %s is missing field %q", key, f)
		}
	}
	return nil
}
