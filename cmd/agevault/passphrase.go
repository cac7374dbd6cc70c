package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/ui"
)

var passphraseShow bool

func init() {
	rootCmd.AddCommand(passphraseCmd)
	passphraseCmd.Flags().BoolVar(&passphraseShow, "show", false, "Print the passphrase value")
}

var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Create the storage passphrase if needed and show where it is kept",
	Long: `Ensures the automatically generated storage passphrase exists.

The passphrase is 256 random bits, base64url-encoded. With the default file
backend it is stored in plaintext (mode 0600) next to the key storage, so
anyone who can read that directory can unlock the keys. Set
passphrase_backend: keyring in the configuration to use the OS keyring.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		existed, err := app.pass.Exists()
		if err != nil {
			return err
		}
		p, err := app.unlock()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if passphraseShow {
			fmt.Fprintln(out, p.Reveal())
			return nil
		}
		if existed {
			fmt.Fprintln(out, ui.OK("Passphrase stored at "+ui.Path.Sprint(app.pass.Location())))
		} else {
			fmt.Fprintln(out, ui.OK("Passphrase created at "+ui.Path.Sprint(app.pass.Location())))
		}
		return nil
	},
}
