package workload

import "github.com/spf13/cobra"

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "generate test workloads",
		Long: `Generate test workloads.

Runs a cluster of nodes in-process, routing messages between nodes over
pipes in place of stdin and stdout, and generates client traffic. It is used
to check values converge under different topologies and gossip intervals.

Examples:
  # Broadcast 100 values to a cluster of 5 nodes with a tree topology.
  glomers workload broadcast --nodes 5 --topology tree --values 100
`,
	}

	cmd.AddCommand(newBroadcastCommand())

	return cmd
}
