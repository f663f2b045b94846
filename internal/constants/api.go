package constants

// OpenBao API paths used by the OpenBao secret store backend.
const (
	APIPathAppRoleLogin = "/v1/auth/approle/login"
	// APIPathKVDataFormat expands to /v1/<mount>/data/<path> for KV version 2 reads.
	APIPathKVDataFormat = "/v1/%s/data/%s"

	HeaderVaultToken     = "X-Vault-Token"
	HeaderVaultNamespace = "X-Vault-Namespace"
)

// Store defaults.
const (
	DefaultKVMount = "secret"
	// DefaultKVField is read from a KV entry when a reference carries no "#field" suffix.
	DefaultKVField = "value"
)

// Custom resource identity of the watched type.
const (
	CRDGroup    = "secrets.openbao.org"
	CRDVersion  = "v1alpha1"
	CRDPlural   = "vaultsyncs"
	CRDSingular = "vaultsync"
	CRDName     = CRDPlural + "." + CRDGroup
)
