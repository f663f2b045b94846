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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/dc-tec/vaultsync-operator/cmd/controller"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	setupLog = ctrl.Log.WithName("setup")
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "vaultsync-operator",
		Short:        "Synchronize external store secrets into Kubernetes Secrets",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "vaultsync-operator version %s\n" .Version}}`)
	root.AddCommand(controller.NewCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of vaultsync-operator",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "vaultsync-operator version %s\n", version)
		},
	}
}

// exitCode is 2 for failures a restart cannot fix and 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case operatorerrors.IsPermanent(err):
		return 2
	default:
		return 1
	}
}

func main() {
	err := newRootCommand().ExecuteContext(ctrl.SetupSignalHandler())
	if err == nil {
		return
	}
	if operatorerrors.IsPermanent(err) {
		setupLog.Error(err, "command failed, manual intervention required")
	} else {
		setupLog.Error(err, "command failed")
	}
	os.Exit(exitCode(err))
}
