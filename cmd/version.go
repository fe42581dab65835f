package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parkuman/cypress-code-coverage-v8/lib/consts"
)

var versionColor = color.New(color.FgCyan)

func getVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show application version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(versionColor.Sprintf("cycov v%s", consts.Version))
		},
	}
}
