package kube

import (
	"slices"

	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
)

// ControllerRules returns the permissions Cluster needs, plus leader election.
func ControllerRules() []rbacv1.PolicyRule {
	return []rbacv1.PolicyRule{
		{
			APIGroups: []string{""},
			Resources: []string{"namespaces"},
			Verbs:     []string{"list"},
		},
		{
			APIGroups: []string{""},
			Resources: []string{"secrets"},
			Verbs:     []string{"create", "delete", "get", "list", "update"},
		},
		{
			APIGroups: []string{constants.CRDGroup},
			Resources: []string{constants.CRDPlural},
			Verbs:     []string{"get", "list", "watch"},
		},
		{
			APIGroups:     []string{"apiextensions.k8s.io"},
			Resources:     []string{"customresourcedefinitions"},
			Verbs:         []string{"get"},
			ResourceNames: []string{constants.CRDName},
		},
		{
			APIGroups: []string{"coordination.k8s.io"},
			Resources: []string{"leases"},
			Verbs:     []string{"create", "get", "list", "update", "watch"},
		},
		{
			APIGroups: []string{""},
			Resources: []string{"events"},
			Verbs:     []string{"create", "patch"},
		},
	}
}

// ControllerClusterRole wraps ControllerRules in a ClusterRole named name.
func ControllerClusterRole(name string) *rbacv1.ClusterRole {
	return &rbacv1.ClusterRole{
		TypeMeta: metav1.TypeMeta{APIVersion: rbacv1.SchemeGroupVersion.String(), Kind: "ClusterRole"},
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				"app.kubernetes.io/name":       constants.LabelValueAppManagedByVaultSyncOperator,
				"app.kubernetes.io/managed-by": "kustomize",
			},
		},
		Rules: ControllerRules(),
	}
}

// RulesCover reports whether some rule in rules grants need.
func RulesCover(rules []rbacv1.PolicyRule, need rbacv1.PolicyRule) bool {
	for _, rule := range rules {
		if ruleCovers(rule, need) {
			return true
		}
	}
	return false
}

func ruleCovers(have, need rbacv1.PolicyRule) bool {
	return setCovers(have.APIGroups, need.APIGroups) &&
		setCovers(have.Resources, need.Resources) &&
		setCovers(have.Verbs, need.Verbs) &&
		(len(have.ResourceNames) == 0 || setCovers(have.ResourceNames, need.ResourceNames) && len(need.ResourceNames) > 0)
}

func setCovers(have, need []string) bool {
	if slices.Contains(have, "*") {
		return true
	}
	for _, n := range need {
		if !slices.Contains(have, n) {
			return false
		}
	}
	return true
}
