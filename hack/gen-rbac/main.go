package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/dc-tec/vaultsync-operator/internal/kube"
)

const header = `---
# Generated by hack/gen-rbac. Do not edit by hand.
#
# The controller lists namespaces, writes Secrets it owns in any namespace,
# watches VaultSync manifests and reads its own CRD definition.
`

func main() {
	out := flag.String("out", "config/rbac/role.yaml", "path of the generated ClusterRole")
	name := flag.String("name", "vaultsync-operator-manager-role", "name of the ClusterRole")
	flag.Parse()

	body, err := yaml.Marshal(kube.ControllerClusterRole(*name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: render ClusterRole: %v\n", err)
		os.Exit(1)
	}

	// #nosec G306 -- writes non-sensitive YAML intended to be committed to the repo.
	if err := os.WriteFile(filepath.Clean(*out), append([]byte(header), body...), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: write %s: %v\n", *out, err)
		os.Exit(1)
	}
}
