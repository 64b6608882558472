// Package gateway wires the C8 HTTP gateway into a standalone binary: a
// transport cache factory backed by a real client-go clientset, and an
// HTTP server exposing pkg/gateway's router alongside health/metrics.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"time"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	mcpgateway "github.com/nwrx/mcpserver-operator/pkg/gateway"
	"github.com/nwrx/mcpserver-operator/pkg/health"
	"github.com/nwrx/mcpserver-operator/pkg/projector"
	"github.com/nwrx/mcpserver-operator/pkg/store"
	"github.com/nwrx/mcpserver-operator/pkg/transport"
	"github.com/nwrx/mcpserver-operator/pkg/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Command builds the "gateway" subcommand.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the lazy-start MCP gateway",
		RunE:  runGateway,
	}
	flags := cmd.Flags()
	flags.String("kubeconfig", "", "Path to a kubeconfig file, empty for in-cluster config")
	flags.String("namespace", "default", "Namespace this gateway instance serves")
	flags.String("listen-address", ":8080", "Address the SSE/message routes bind to")
	flags.String("health-probe-bind-address", ":8081", "Address the /healthz, /readyz and /metrics endpoints bind to")
	flags.Int("transport-cache-capacity", mcpgateway.DefaultCapacity, "Maximum number of concurrently attached transports")
	flags.Duration("transport-ttl", mcpgateway.DefaultTTL, "Maximum lifetime of a cached transport regardless of activity")
	flags.Duration("transport-idle-expiry", mcpgateway.DefaultIdleEvict, "Idle duration after which a cached transport is evicted")
	flags.Int("log-level", 2, "Set the log level (from 0 to 9)")
	_ = viper.BindPFlags(flags)
	return cmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	initLogging(viper.GetInt("log-level"))
	klog.V(0).InfoS("starting gateway", "version", version.String())

	restCfg, err := loadRestConfig(viper.GetString("kubeconfig"))
	if err != nil {
		return fmt.Errorf("loading kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("building clientset: %w", err)
	}

	k8sClient, err := client.New(restCfg, client.Options{})
	if err != nil {
		return fmt.Errorf("building controller-runtime client: %w", err)
	}
	s := store.New(k8sClient)
	namespace := viper.GetString("namespace")

	factory := func(ctx context.Context, ns, name string) (*transport.Transport, error) {
		server, err := s.GetServer(ctx, ns, name)
		if err != nil {
			return nil, err
		}
		if kind := server.Spec.Transport.Kind; kind != mcpserverv1.TransportStdio {
			return nil, apierror.UnsupportedTransport(string(kind))
		}
		podName := projector.PodName(server)
		t := transport.New(clientset, restCfg, ns, name)
		if err := t.Attach(ctx, ns, podName); err != nil {
			return nil, err
		}
		return t, nil
	}

	cache := mcpgateway.NewTransportCache(
		viper.GetInt("transport-cache-capacity"),
		viper.GetDuration("transport-ttl"),
		viper.GetDuration("transport-idle-expiry"),
		factory,
	)

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	go cache.RunJanitor(janitorCtx, time.Minute)

	gw := mcpgateway.New(namespace, s, cache, 0)

	checker := health.NewChecker()
	checker.SetReady(true)
	healthMux := http.NewServeMux()
	health.AttachEndpoints(healthMux, checker)

	healthSrv := &http.Server{Addr: viper.GetString("health-probe-bind-address"), Handler: healthMux}
	gatewaySrv := &http.Server{Addr: viper.GetString("listen-address"), Handler: gw.Router()}

	errCh := make(chan error, 2)
	go func() { errCh <- healthSrv.ListenAndServe() }()
	go func() { errCh <- gatewaySrv.ListenAndServe() }()

	klog.V(0).InfoS("gateway listening", "address", viper.GetString("listen-address"), "namespace", namespace)

	select {
	case <-cmd.Context().Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gatewaySrv.Shutdown(shutdownCtx)
		_ = healthSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway server exited: %w", err)
		}
		return nil
	}
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
	klog.SetLoggerWithOptions(textlogger.NewLogger(config))

	flagSet := flag.NewFlagSet("mcpserver-gateway", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	_ = flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)})
}
