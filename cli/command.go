package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/cli/status"
	"github.com/andydunstall/glomers/cli/workload"
	"github.com/andydunstall/glomers/node"
	"github.com/andydunstall/glomers/pkg/config"
	"github.com/andydunstall/glomers/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "glomers [command] (flags)",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `Glomers is a node in a broadcast cluster.

Each node reads messages as lines of JSON from stdin and writes messages to
stdout. The first message must be 'init', which assigns the node its ID.
Nodes then accept 'broadcast' and 'read' requests from clients and
periodically gossip all known values to their neighbors, given by the
'topology' message, so every value eventually reaches every node.

Logs are written to stderr.

Start a node with:

  $ glomers

Start a node with an admin server exposing metrics and the node status:

  $ glomers --admin.bind-addr :8002

Inspect the status of a node with:

  $ glomers status node

Run an in-process cluster and check values converge with:

  $ glomers workload broadcast --nodes 5 --topology tree
`,
	}

	conf := node.DefaultConfig()

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
		// Stdout is reserved for protocol messages, so errors are written to
		// stderr.

		if configPath != "" {
			if err := config.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Fprintf(os.Stderr, "load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(&conf.Log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run node", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
	}

	cmd.AddCommand(status.NewCommand())
	cmd.AddCommand(workload.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
