/*
 *
 * cypress-code-coverage-v8 - native browser coverage for end-to-end test runs
 * Copyright (C) 2024 parkuman
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/parkuman/cypress-code-coverage-v8/lib"
	"github.com/parkuman/cypress-code-coverage-v8/log"
)

// This keeps all fields needed for the main/root command.
type rootCommand struct {
	cmd    *cobra.Command
	logger *log.Logger
	fs     afero.Fs

	verbose        bool
	noColor        bool
	logCategories  string
	configFilePath string
}

func newRootCommand() *rootCommand {
	ll := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	c := &rootCommand{
		logger: log.New(ll, false, nil),
		fs:     afero.NewOsFs(),
	}
	// the base command when called without any subcommands.
	c.cmd = &cobra.Command{
		Use:               "cycov",
		Short:             "native browser coverage for end-to-end test runs",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.PersistentFlags().AddFlagSet(c.rootCmdPersistentFlagSet())
	return c
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	if c.verbose {
		c.logger.Log.SetLevel(logrus.DebugLevel)
	}
	if c.logCategories != "" {
		if err := c.logger.SetCategoryFilter(c.logCategories); err != nil {
			return err
		}
	}

	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if c.noColor || !stderrTTY {
		c.logger.Log.SetOutput(colorable.NewNonColorable(os.Stderr))
		c.logger.Log.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	} else {
		c.logger.Log.SetOutput(colorable.NewColorableStderr())
	}
	return nil
}

func (c *rootCommand) rootCmdPersistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&c.logCategories, "log-categories", "", "regexp filter for log categories, e.g. cov:cdp.*")
	flags.StringVarP(&c.configFilePath, "config", "c", os.Getenv("CYCOV_CONFIG"), "JSON config file")
	must(cobra.MarkFlagFilename(flags, "config"))
	return flags
}

// loadConfig consolidates file and environment configuration on top of the
// defaults.
func (c *rootCommand) loadConfig() (lib.Config, error) {
	var raw []byte
	if c.configFilePath != "" {
		data, err := afero.ReadFile(c.fs, c.configFilePath)
		if err != nil {
			return lib.Config{}, fmt.Errorf("reading config file %s: %w", c.configFilePath, err)
		}
		raw = data
	}
	return lib.GetConsolidatedConfig(raw)
}

// Execute adds all child commands to the root command and runs it. This is
// called by main.main() and only needs to happen once.
func Execute() {
	c := newRootCommand()
	c.cmd.AddCommand(
		getServeCmd(c),
		getMergeCmd(c),
		getVersionCmd(),
	)

	if err := c.cmd.Execute(); err != nil {
		c.logger.Log.Error(err)
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
