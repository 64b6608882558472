package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdgateway "github.com/nwrx/mcpserver-operator/cmd/gateway"
	cmdoperator "github.com/nwrx/mcpserver-operator/cmd/operator"
	"github.com/nwrx/mcpserver-operator/pkg/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpserver-operator [command] [options]",
	Short: "Kubernetes operator for lazy-started MCP servers",
	Long: `
mcpserver-operator manages the lifecycle of Model Context Protocol servers
backed by Kubernetes workloads.

  # run the controller manager
  mcpserver-operator operator

  # run the lazy-start HTTP gateway
  mcpserver-operator gateway

  # print version information
  mcpserver-operator --version`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Println(version.String())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and quit")
	rootCmd.AddCommand(cmdoperator.Command(), cmdgateway.Command())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
