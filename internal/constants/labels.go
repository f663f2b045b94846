package constants

// Label keys written on every synchronized Secret.
const (
	LabelAppManagedBy = "app.kubernetes.io/managed-by"

	// LabelOwnerID records the name of the VaultSync that produced a Secret.
	LabelOwnerID = "secrets.openbao.org/owner-id"
)

// LabelValueAppManagedByVaultSyncOperator marks Secrets owned by this operator.
const LabelValueAppManagedByVaultSyncOperator = "vaultsync-operator"

// OwnerSelector returns the label selector matching every Secret this operator owns.
func OwnerSelector() map[string]string {
	return map[string]string{LabelAppManagedBy: LabelValueAppManagedByVaultSyncOperator}
}
