package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(recipientCmd)
}

var recipientCmd = &cobra.Command{
	Use:   "recipient <identity-file|->",
	Short: "Print the public key of an identity",
	Long: `Prints the recipient (public key) for an identity file, or for an
identity read from standard input when the argument is "-".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := args[0]
		if identity == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read identity: %w", err)
			}
			identity = strings.TrimSpace(string(data))
		} else if _, err := os.Stat(identity); err != nil {
			return fmt.Errorf("identity file: %w", err)
		}

		recipient, err := app.bridge.DeriveRecipient(cmd.Context(), identity)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), recipient)
		return nil
	},
}
