// File: cmd/scenarios.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatprobe/internal/observability"
	"github.com/xkilldash9x/chatprobe/internal/scenario"
)

// newScenariosCmd creates the `scenarios` command, which lists the test
// catalogue without driving a browser.
func newScenariosCmd() *cobra.Command {
	var (
		scenarioFile string
		categories   []string
		language     string
	)

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Lists the scenario catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := scenario.Load(scenarioFile, observability.GetLogger())
			if err != nil {
				return err
			}

			cases := store.Filter(categories, language)
			if len(cases) == 0 {
				return fmt.Errorf("no scenarios match the given filters")
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tKIND\tLANG\tDESCRIPTION")
			for _, sc := range cases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					sc.ID, sc.Category, sc.Kind, sc.Language, sc.Description)
			}
			return w.Flush()
		},
	}

	scenariosCmd.Flags().StringVar(&scenarioFile, "data", "", "Path to a scenario catalogue file. Defaults to the embedded catalogue.")
	scenariosCmd.Flags().StringSliceVar(&categories, "category", nil, "Filter by category.")
	scenariosCmd.Flags().StringVarP(&language, "language", "l", "", "Filter by language.")

	return scenariosCmd
}
