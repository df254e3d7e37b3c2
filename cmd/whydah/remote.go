package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OrlandoBitencourt/whydah/pkg/client"
)

var (
	serverURL string
	getFilter string
)

var getCmd = &cobra.Command{
	Use:   "get [service]",
	Short: "Print one service config, or the service list, from a running server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		var out any
		if len(args) == 0 {
			out, err = c.Services(cmd.Context())
		} else {
			out, err = c.GetFilteredConfig(cmd.Context(), args[0], getFilter)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <service> <setting> [property] <value>",
	Short: "Update a setting in a running server's cache",
	Long: `set changes one property (value by default) of a setting held in the
server's memory. The repository is not modified and the change is lost on
the next refresh.`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if len(args) == 3 {
			err = c.UpdateValue(cmd.Context(), args[0], args[1], args[2])
		} else {
			err = c.UpdateProperty(cmd.Context(), args[0], args[1], args[2], args[3])
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Updated '%s' for '%s'\n", args[1], args[0])
		return err
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Make a running server pull the repository and reload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Refresh(cmd.Context()); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "Configurations refreshed")
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, setCmd, refreshCmd} {
		cmd.Flags().StringVarP(&serverURL, "server", "s", client.DefaultConfig().Endpoint, "whydah server URL")
	}
	getCmd.Flags().StringVarP(&getFilter, "filter", "f", "", `setting filter, e.g. 'type == "flag"'`)
}

func newClient() (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.Endpoint = serverURL
	return client.New(cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
