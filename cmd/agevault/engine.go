package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/cli"
	"github.com/forest6511/agevault/internal/ui"
)

func init() {
	rootCmd.AddCommand(engineCmd)
	engineCmd.AddCommand(engineLocateCmd)
	engineCmd.AddCommand(engineVersionCmd)
}

// engineCmd is the parent command for the age tools
var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Inspect the age tools agevault runs",
}

var engineLocateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show where age and age-keygen resolve to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		found := app.bridge.Locate()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		missing := false
		for _, name := range cli.MapKeys(found) {
			p := found[name]
			if p == "" {
				p = ui.Error.Sprint("not found")
				missing = true
			}
			fmt.Fprintf(tw, "%s\t%s\n", name, p)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if missing {
			fmt.Fprintln(cmd.OutOrStdout(), ui.Hint("Install age from https://age-encryption.org or set engine.age in the configuration"))
		}
		return nil
	},
}

var engineVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the age version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := app.bridge.Version(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}
