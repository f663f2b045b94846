package constants

// Annotation keys written on every synchronized Secret.
const (
	// AnnotationUpdated records when the operator last wrote the Secret (RFC3339).
	AnnotationUpdated = "secrets.openbao.org/updated"
	// AnnotationSyncVersion records the VaultSync spec.syncVersion the Secret was rendered from.
	// Drift detection compares it against the stored manifest.
	AnnotationSyncVersion = "secrets.openbao.org/sync-version"
)
