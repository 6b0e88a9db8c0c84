package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/lens/internal/config"
)

var validatorsCmd = &cobra.Command{
	Use:   "validators",
	Short: "List the validators available for review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]string{}
		if flagValidatorsF != "" {
			overrides["validatorsFile"] = flagValidatorsF
		}
		cfg, err := config.Load(overrides)
		if err != nil {
			return err
		}
		defs, err := loadValidators(cfg)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, d := range defs {
			fmt.Fprintf(tw, "%s\t%s\n", d.Name, d.Description)
		}
		return tw.Flush()
	},
}

func init() {
	validatorsCmd.Flags().StringVar(&flagValidatorsF, "validators", "", "YAML file with extra or overriding validators")
}
