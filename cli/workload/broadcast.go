package workload

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/glomerstest/workload"
	"github.com/andydunstall/glomers/glomerstest/workload/config"
	pkgconfig "github.com/andydunstall/glomers/pkg/config"
	"github.com/andydunstall/glomers/pkg/log"
)

func newBroadcastCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "broadcast values and wait for convergence",
		Long: `Broadcast values and wait for convergence.

Starts a cluster with the configured number of nodes and topology, then
starts the configured number of clients which broadcast values to random
nodes. Once all values are broadcast, waits for every node to know every
value.

Exits with a non-zero status if the cluster doesn't converge within the
timeout.

Examples:
  # Broadcast 100 values from 4 clients to 5 nodes.
  glomers workload broadcast

  # Broadcast 1000 values to 25 nodes in a line.
  glomers workload broadcast --nodes 25 --topology line --values 1000

  # Use a tree topology where each node has up to 4 children.
  glomers workload broadcast --topology tree4
`,
	}

	conf := config.DefaultBroadcast()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replaces references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := pkgconfig.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(&conf.Log)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		if err := runBroadcast(conf, logger); err != nil {
			logger.Error("failed to run workload", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
	}

	return cmd
}

func runBroadcast(conf *config.BroadcastConfig, logger log.Logger) error {
	logger.Info("starting broadcast workload", zap.Any("conf", conf))

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	result, err := workload.RunBroadcast(ctx, conf, logger)
	if err != nil {
		return err
	}

	fmt.Printf(
		"converged: nodes=%d values=%d broadcast=%s converged=%s\n",
		conf.Cluster.Nodes,
		conf.Values,
		result.Broadcast,
		result.Converged,
	)
	return nil
}
