// Package operator wires the C4 reconciliation engine and the Pool
// aggregator into a controller-runtime manager, following the cobra +
// viper flag surface the teacher's root command establishes.
package operator

import (
	"flag"
	"fmt"
	"net/http"
	"strconv"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/internal/controller"
	"github.com/nwrx/mcpserver-operator/pkg/store"
	"github.com/nwrx/mcpserver-operator/pkg/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
)

// Command builds the "operator" subcommand.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Run the mcpserver-operator controller manager",
		RunE:  runOperator,
	}
	flags := cmd.Flags()
	flags.String("kubeconfig", "", "Path to a kubeconfig file, empty for in-cluster config")
	flags.String("metrics-bind-address", ":8443", "Address the /metrics endpoint binds to")
	flags.String("health-probe-bind-address", ":8081", "Address the /healthz and /readyz endpoints bind to")
	flags.Bool("leader-elect", false, "Enable leader election for controller manager HA")
	flags.Int("log-level", 2, "Set the log level (from 0 to 9)")
	_ = viper.BindPFlags(flags)
	return cmd
}

func runOperator(cmd *cobra.Command, _ []string) error {
	_ = viper.BindPFlags(cmd.Flags())
	initLogging(viper.GetInt("log-level"))
	klog.V(0).InfoS("starting operator", "version", version.String())

	restCfg, err := loadRestConfig(viper.GetString("kubeconfig"))
	if err != nil {
		return fmt.Errorf("loading kubeconfig: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := mcpserverv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("registering mcpserver.nwrx.io/v1 scheme: %w", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("registering core/v1 scheme: %w", err)
	}

	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: viper.GetString("metrics-bind-address")},
		HealthProbeBindAddress: viper.GetString("health-probe-bind-address"),
		LeaderElection:         viper.GetBool("leader-elect"),
		LeaderElectionID:       "mcpserver-operator-leader",
	})
	if err != nil {
		return fmt.Errorf("constructing manager: %w", err)
	}

	s := store.New(mgr.GetClient())

	if err := (&controller.ServerReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Store:  s,
	}).SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setting up Server controller: %w", err)
	}

	if err := (&controller.PoolReconciler{
		Client: mgr.GetClient(),
		Store:  s,
	}).SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setting up Pool controller: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("adding healthz check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", func(_ *http.Request) error { return nil }); err != nil {
		return fmt.Errorf("adding readyz check: %w", err)
	}

	klog.V(0).InfoS("manager starting", "metrics", viper.GetString("metrics-bind-address"), "health", viper.GetString("health-probe-bind-address"))
	if err := mgr.Start(cmd.Context()); err != nil {
		return fmt.Errorf("manager exited: %w", err)
	}
	return nil
}

func loadRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		return ctrl.GetConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

func initLogging(logLevel int) {
	if logLevel < 0 {
		logLevel = 2
	}
	config := textlogger.NewConfig(textlogger.Verbosity(logLevel))
	logger := textlogger.NewLogger(config)
	klog.SetLoggerWithOptions(logger)
	logf.SetLogger(logger)

	flagSet := flag.NewFlagSet("mcpserver-operator", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	_ = flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)})
}
