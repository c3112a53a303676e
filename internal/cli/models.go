package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tokenbridge/pkg/types"
)

func newModelsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List model files found in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideString(cmd.Flags(), "models-dir", &a.cfg.ModelsDir)
			reg, _, err := a.registry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(types.ModelsResponse{Models: reg})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tQUANT\tFAMILY\tPATH")
			for _, m := range reg {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Quant, m.Family, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("models-dir", "", "Directory to scan for *.gguf model files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
