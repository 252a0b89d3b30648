package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPluginsCmd() *cobra.Command {
	var subtype string
	cmd := &cobra.Command{
		Use:   "plugins [type]",
		Short: "List registered plugins",
		Long: `Lists the registered plugins with their tunable hyperparameters.
Types are imputer, preprocessor and prediction.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pluginType := ""
			if len(args) == 1 {
				pluginType = args[0]
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tSUBTYPE\tNAME\tPARAMS")
			n := 0
			for _, info := range registry.Describe(pluginType) {
				if subtype != "" && info.Subtype != subtype {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Type, info.Subtype, info.Name, strings.Join(info.Params, ","))
				n++
			}
			if n == 0 {
				return fmt.Errorf("no plugins match type %q subtype %q", pluginType, subtype)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&subtype, "subtype", "s", "", "Only list plugins of this subtype")
	return cmd
}
