package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
)

func getMergeCmd(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <out> <in>...",
		Short: "combine per-spec coverage reports into one",
		Long: "Merge two or more canonical coverage reports, summing hit counts " +
			"per source location, and write the combined report to <out>.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, inputs := args[0], args[1:]

			total := coverage.Map{}
			for _, in := range inputs {
				data, err := afero.ReadFile(c.fs, in)
				if err != nil {
					return fmt.Errorf("reading %s: %w", in, err)
				}
				m, err := coverage.ParseMap(data)
				if err != nil {
					return fmt.Errorf("parsing %s: %w", in, err)
				}
				total.Merge(m)
			}

			data, err := total.Marshal()
			if err != nil {
				return err
			}
			if err := afero.WriteFile(c.fs, out, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			c.logger.Infof("cov:cmd", "merged %d reports into %s (%d files)", len(inputs), out, len(total))
			return nil
		},
	}
}
