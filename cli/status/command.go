package status

import (
	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [command] (flags)",
		Short: "inspect node status",
		Long: `Inspect node status.

Each node exposes a status API on its admin server, enabled with
'--admin.bind-addr', to inspect the node's identity, topology and known
values.

Examples:
  # Inspect the node.
  glomers status node

  # Inspect the values known by the node.
  glomers status node values

  # Inspect a node with admin address 10.26.104.56:8002.
  glomers status node --admin.url http://10.26.104.56:8002
`,
	}

	cmd.AddCommand(newNodeCommand())

	return cmd
}
