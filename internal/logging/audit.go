package logging

import (
	"slices"

	"github.com/go-logr/logr"

	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// EventType names an audited operator action.
type EventType string

const (
	EventSecretCreated  EventType = "secret_created"
	EventSecretReplaced EventType = "secret_replaced"
	EventSecretDeleted  EventType = "secret_deleted"
)

// LogAuditEvent logs a structured audit event for operator actions.
// Audit events are distinct from regular debug/info logs and are tagged
// with "audit=true" for easy filtering in log aggregation systems.
func LogAuditEvent(logger logr.Logger, eventType EventType, fields map[string]string) {
	auditLogger := logger.WithValues("audit", "true", "event_type", string(eventType))

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		auditLogger = auditLogger.WithValues(key, fields[key])
	}
	auditLogger.Info("Operator audit event")
}

// LogSecretEvent audits a write to a managed Secret. owner is the VaultSync
// key the Secret belongs to; it is empty for dangling deletions.
func LogSecretEvent(logger logr.Logger, eventType EventType, secret resource.Key, owner string) {
	fields := map[string]string{
		"secret_namespace": secret.Namespace,
		"secret_name":      secret.Name,
	}
	if owner != "" {
		fields["owner"] = owner
	}
	LogAuditEvent(logger, eventType, fields)
}
