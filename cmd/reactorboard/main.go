// Command reactorboard serves the bioreactor dashboard API on a leader or
// follower unit.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"reactorboard/internal/app"
	"reactorboard/internal/config"
)

// version is overridden at link time.
var version = "dev"

// serveFunc runs the configured unit until ctx ends.
type serveFunc func(ctx context.Context, cfg config.Config, logger *zap.Logger) error

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(config.New(), app.Run)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd(v *viper.Viper, serve serveFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "reactorboard",
		Short:         "Bioreactor fleet dashboard backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(v, serve), newVersionCmd())
	return root
}

func newServeCmd(v *viper.Viper, serve serveFunc) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default ./reactorboard.yaml or /etc/reactorboard/reactorboard.yaml)")
	flags.String("unit", "", "name of this unit (defaults to the hostname)")
	flags.String("leader-hostname", "", "hostname of the fleet leader")
	flags.String("http-addr", "", "HTTP listen address")
	flags.String("storage-driver", "", "central store driver: sqlite or postgres")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	for key, flag := range map[string]string{
		"unit":            "unit",
		"leader_hostname": "leader-hostname",
		"http.addr":       "http-addr",
		"storage.driver":  "storage-driver",
		"logging.level":   "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "reactorboard", version)
		},
	}
}
