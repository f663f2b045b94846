package vaultsync

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/constants"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

var secretTypes = map[string]corev1.SecretType{
	"":                 corev1.SecretTypeOpaque,
	"opaque":           corev1.SecretTypeOpaque,
	"dockerconfigjson": corev1.SecretTypeDockerConfigJson,
	"dockercfg":        corev1.SecretTypeDockercfg,
	"basic-auth":       corev1.SecretTypeBasicAuth,
	"ssh-auth":         corev1.SecretTypeSSHAuth,
	"tls":              corev1.SecretTypeTLS,
}

// SecretType maps a ManagedSecret type onto a Secret type. Short names are
// case-insensitive; fully qualified types (containing "/") pass through.
func SecretType(name string) (corev1.SecretType, error) {
	if t, ok := secretTypes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	if strings.Contains(name, "/") {
		return corev1.SecretType(strings.TrimSpace(name)), nil
	}
	return "", fmt.Errorf("unsupported secret type %q", name)
}

// SyncVersionString formats a sync version for the sync-version annotation.
func SyncVersionString(v int64) string {
	return strconv.FormatInt(v, 10)
}

// BuildSecret renders the desired Secret for one target of a definition.
// Ownership labels are applied last so definition labels cannot override them.
func BuildSecret(vs *secretsv1alpha1.VaultSync, def secretsv1alpha1.ManagedSecret, target resource.Key,
	secretType corev1.SecretType, data map[string][]byte, now time.Time) *corev1.Secret {
	labels := make(map[string]string, len(def.Labels)+2)
	maps.Copy(labels, def.Labels)
	labels[constants.LabelAppManagedBy] = constants.LabelValueAppManagedByVaultSyncOperator
	labels[constants.LabelOwnerID] = vs.Name

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: target.Namespace,
			Name:      target.Name,
			Labels:    labels,
			Annotations: map[string]string{
				constants.AnnotationUpdated:     now.UTC().Format(time.RFC3339),
				constants.AnnotationSyncVersion: SyncVersionString(vs.Spec.SyncVersion),
			},
		},
		Type: secretType,
		Data: maps.Clone(data),
	}
}

// IsCurrent reports whether secret was rendered from syncVersion.
func IsCurrent(secret *corev1.Secret, syncVersion int64) bool {
	v, ok := secret.Annotations[constants.AnnotationSyncVersion]
	return ok && v == SyncVersionString(syncVersion)
}
