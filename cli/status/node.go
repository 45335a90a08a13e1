package status

import (
	"fmt"
	"net/url"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/glomers/status/client"
	"github.com/andydunstall/glomers/status/config"
)

func newNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "inspect node",
		Long: `Inspect node.

Queries the node for its ID, the cluster members, the active topology and
the set of known values.

Examples:
  glomers status node
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.PersistentFlags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		showNode(&conf)
	}

	cmd.AddCommand(newNodeValuesCommand(&conf))

	return cmd
}

func showNode(conf *config.Config) {
	// The URL has already been validated in conf.
	url, _ := url.Parse(conf.Admin.URL)
	client := client.NewClient(url)
	defer client.Close()

	snapshot, err := client.Node()
	if err != nil {
		fmt.Printf("failed to get node: %s\n", err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(snapshot)
	fmt.Println(string(b))
}

func newNodeValuesCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "values",
		Short: "inspect node values",
		Long: `Inspect the values known by the node.

Values are listed in ascending order.

Examples:
  glomers status node values
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		showNodeValues(conf)
	}

	return cmd
}

type nodeValuesOutput struct {
	Values []uint64 `json:"values"`
}

func showNodeValues(conf *config.Config) {
	// The URL has already been validated in conf.
	url, _ := url.Parse(conf.Admin.URL)
	client := client.NewClient(url)
	defer client.Close()

	values, err := client.NodeValues()
	if err != nil {
		fmt.Printf("failed to get node values: %s\n", err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(nodeValuesOutput{Values: values})
	fmt.Println(string(b))
}
