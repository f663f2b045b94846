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

package controller

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/dc-tec/vaultsync-operator/internal/config"
	"github.com/dc-tec/vaultsync-operator/internal/constants"
	"github.com/dc-tec/vaultsync-operator/internal/controller/vaultsync"
	"github.com/dc-tec/vaultsync-operator/internal/controller/watch"
	"github.com/dc-tec/vaultsync-operator/internal/credentials"
	"github.com/dc-tec/vaultsync-operator/internal/kube"
	"github.com/dc-tec/vaultsync-operator/internal/logging"
	"github.com/dc-tec/vaultsync-operator/internal/secretstore"
)

// Options holds the command-line settings of the controller.
type Options struct {
	MetricsAddr          string
	ProbeAddr            string
	EnableLeaderElection bool
	SecureMetrics        bool
	EnableHTTP2          bool

	Zap zap.Options
}

// NewCommand returns the controller subcommand. Environment configuration is
// read once here; --zap-* flags override the logging settings it selects.
func NewCommand() *cobra.Command {
	cfg, cfgErr := config.FromEnv(os.LookupEnv)
	opts := newOptions(cfg)

	cmd := &cobra.Command{
		Use:          "controller",
		Short:        "Run the VaultSync controller",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			return Run(cmd.Context(), cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.MetricsAddr, "metrics-bind-address", ":8443", "The address the metrics endpoint binds to.")
	flags.StringVar(&opts.ProbeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flags.BoolVar(&opts.EnableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flags.BoolVar(&opts.SecureMetrics, "metrics-secure", true,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	flags.BoolVar(&opts.EnableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics server")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.Zap.BindFlags(zapFlags)
	flags.AddGoFlagSet(zapFlags)
	return cmd
}

func newOptions(cfg config.Config) *Options {
	return &Options{Zap: logging.ZapOptions(cfg)}
}

// Run starts the manager and blocks until ctx is cancelled or the watch gives up.
func Run(ctx context.Context, cfg config.Config, opts *Options) error {
	log := logging.New(opts.Zap)
	ctrl.SetLogger(log)
	setupLog := log.WithName("setup")
	setupLog.Info("Loaded configuration",
		"logLevel", cfg.LogLevel,
		"workers", cfg.WorkerCount,
		"queueCapacity", cfg.QueueCapacity,
		"reconciliationFrequency", cfg.ReconciliationFrequency,
		"forceUpdateFrequency", cfg.ForceUpdateFrequency,
		"storeRateLimit", cfg.StoreRateLimit)

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("unable to load kubeconfig: %w", err)
	}
	restCfg.Timeout = constants.KubernetesClientTimeout

	scheme := kube.NewScheme()
	c, err := client.NewWithWatch(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("unable to create cluster client: %w", err)
	}

	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsOptions(setupLog, opts),
		HealthProbeBindAddress: opts.ProbeAddr,
		LeaderElection:         opts.EnableLeaderElection,
		LeaderElectionID:       "vaultsync-operator-leader.secrets.openbao.org",
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	cluster := kube.NewCluster(c)
	creds := credentials.NewCache(cluster, log.WithName("credentials"), credentials.Options{})
	stores := secretstore.NewManager(log.WithName("secretstore"), secretstore.Options{
		RateLimit: cfg.StoreRateLimit,
	}, secretstore.DefaultFactories())
	engine := vaultsync.NewEngine(cluster, creds, stores, log.WithName("engine"), vaultsync.Options{
		Workers:              cfg.WorkerCount,
		QueueCapacity:        cfg.QueueCapacity,
		ForceUpdateFrequency: cfg.ForceUpdateFrequency,
	})

	watcher, err := watch.New(ctx, cluster, engine, log.WithName("watch"), watch.Config{
		CRDName:                 constants.CRDName,
		ReconciliationFrequency: cfg.ReconciliationFrequency,
	})
	if err != nil {
		return err
	}

	err = mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		defer stores.Close()
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return engine.Run(ctx) })
		g.Go(func() error { return watcher.Run(ctx) })
		return g.Wait()
	}))
	if err != nil {
		return fmt.Errorf("unable to register VaultSync runnable: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", watchReady(watcher.State)); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("starting controller manager")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("problem running manager: %w", err)
	}
	return nil
}

func metricsOptions(setupLog logr.Logger, opts *Options) metricsserver.Options {
	// HTTP/2 stays off unless asked for (GHSA-qppj-fm5r-hxr3, GHSA-4374-p667-p6c8).
	var tlsOpts []func(*tls.Config)
	if !opts.EnableHTTP2 {
		tlsOpts = append(tlsOpts, func(c *tls.Config) {
			setupLog.Info("disabling http/2")
			c.NextProtos = []string{"http/1.1"}
		})
	}

	m := metricsserver.Options{
		BindAddress:   opts.MetricsAddr,
		SecureServing: opts.SecureMetrics,
		TLSOpts:       tlsOpts,
	}
	if opts.SecureMetrics {
		m.FilterProvider = filters.WithAuthenticationAndAuthorization
	}
	return m
}

// watchReady reports ready only while the VaultSync watch stream is open.
func watchReady(state func() watch.State) healthz.Checker {
	return func(*http.Request) error {
		if s := state(); s != watch.StateWatching {
			return fmt.Errorf("vaultsync watch is %s", s)
		}
		return nil
	}
}
