/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// StoreProvider selects the external secret store backend.
// +kubebuilder:validation:Enum=openbao;aws
type StoreProvider string

const (
	// StoreProviderOpenBao reads KV version 2 entries from an OpenBao (or Vault) server.
	StoreProviderOpenBao StoreProvider = "openbao"
	// StoreProviderAWS reads secrets from AWS Secrets Manager.
	StoreProviderAWS StoreProvider = "aws"
)

// StoreRef identifies the external secret store.
type StoreRef struct {
	// Provider selects the backend. Defaults to openbao.
	// +kubebuilder:default=openbao
	// +optional
	Provider StoreProvider `json:"provider,omitempty"`

	// Name is the store address: the OpenBao base URL, or the AWS region.
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Mount is the KV version 2 mount path for openbao. Ignored by aws.
	// +optional
	Mount string `json:"mount,omitempty"`
}

// CredentialsRef points at the cluster Secret holding store credentials.
// For openbao the client id and secret are an AppRole role_id and secret_id and the
// tenant is an optional namespace. For aws they are an access key pair and the tenant
// is an optional session token.
type CredentialsRef struct {
	// +kubebuilder:validation:MinLength=1
	SecretName string `json:"secretName"`

	// SecretNamespace defaults to the namespace of the VaultSync.
	// +optional
	SecretNamespace string `json:"secretNamespace,omitempty"`

	// +kubebuilder:default=clientId
	// +optional
	ClientIDField string `json:"clientIdField,omitempty"`

	// +kubebuilder:default=clientSecret
	// +optional
	ClientSecretField string `json:"clientSecretField,omitempty"`

	// +kubebuilder:default=tenantId
	// +optional
	TenantIDField string `json:"tenantIdField,omitempty"`
}

// ManagedSecret declares one Secret to produce in every namespace matching Namespaces.
type ManagedSecret struct {
	// Name of the Secret written into each target namespace.
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Namespaces is a list of regular expressions matched against live namespace names.
	// +kubebuilder:validation:MinItems=1
	Namespaces []string `json:"namespaces"`

	// Type is the Secret type: opaque, dockerconfigjson, dockercfg, basic-auth, ssh-auth,
	// tls, or a fully qualified type such as kubernetes.io/service-account-token.
	// +kubebuilder:default=opaque
	// +optional
	Type string `json:"type,omitempty"`

	// Data maps Secret keys to templates. Templates reference store secrets with
	// {{ .name }} or {{ secret "path/name" }}.
	Data map[string]string `json:"data"`

	// Labels are applied to every produced Secret in addition to the ownership labels.
	// +optional
	Labels map[string]string `json:"labels,omitempty"`
}

// VaultSyncSpec defines the desired state of VaultSync.
type VaultSyncSpec struct {
	// SyncVersion is bumped to force every produced Secret to be rewritten and
	// to invalidate cached store credentials.
	// +kubebuilder:validation:Minimum=0
	// +optional
	SyncVersion int64 `json:"syncVersion,omitempty"`

	Store StoreRef `json:"store"`

	CredentialsRef CredentialsRef `json:"credentialsRef"`

	// +optional
	ManagedSecrets []ManagedSecret `json:"managedSecrets,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Namespaced,shortName=vs
// +kubebuilder:printcolumn:name="Store",type="string",JSONPath=".spec.store.name"
// +kubebuilder:printcolumn:name="Sync Version",type="integer",JSONPath=".spec.syncVersion"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// VaultSync is the Schema for the vaultsyncs API.
// A VaultSync declares secrets to copy from an external store into cluster Secrets
// across every namespace matching its patterns.
type VaultSync struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec VaultSyncSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// VaultSyncList contains a list of VaultSync.
type VaultSyncList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []VaultSync `json:"items"`
}

// CredentialsNamespace returns the namespace holding the credential Secret.
func (v *VaultSync) CredentialsNamespace() string {
	if v.Spec.CredentialsRef.SecretNamespace != "" {
		return v.Spec.CredentialsRef.SecretNamespace
	}
	return v.Namespace
}

// ProviderOrDefault returns the configured provider, defaulting to openbao.
func (s StoreRef) ProviderOrDefault() StoreProvider {
	if s.Provider == "" {
		return StoreProviderOpenBao
	}
	return s.Provider
}

// FieldNames returns the credential Secret keys, applying the API defaults
// for objects created before defaulting was in place.
func (c CredentialsRef) FieldNames() (clientID, clientSecret, tenantID string) {
	clientID, clientSecret, tenantID = c.ClientIDField, c.ClientSecretField, c.TenantIDField
	if clientID == "" {
		clientID = "clientId"
	}
	if clientSecret == "" {
		clientSecret = "clientSecret"
	}
	if tenantID == "" {
		tenantID = "tenantId"
	}
	return clientID, clientSecret, tenantID
}

func init() {
	SchemeBuilder.Register(&VaultSync{}, &VaultSyncList{})
}
