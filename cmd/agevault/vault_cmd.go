package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/ui"
)

var vaultStatusJSON bool

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultStatusCmd)
	vaultCmd.AddCommand(vaultPathCmd)

	vaultStatusCmd.Flags().BoolVar(&vaultStatusJSON, "json", false, "Output as JSON")
}

// vaultCmd is the parent command for key storage operations
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Key storage operations",
}

var vaultPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the key storage path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := app.store.Resolve("")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

type vaultStatusOutput struct {
	Path             string   `json:"path"`
	Exists           bool     `json:"exists"`
	Version          uint32   `json:"version,omitempty"`
	Records          int      `json:"records"`
	PermissionsValid bool     `json:"permissions_valid"`
	Passphrase       string   `json:"passphrase"`
	Errors           []string `json:"errors,omitempty"`
}

var vaultStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether key storage exists and how many keys it holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.store.Stat("")
		if err != nil {
			return err
		}
		status := vaultStatusOutput{
			Path:             st.Path,
			Exists:           st.Exists,
			Version:          st.Version,
			PermissionsValid: st.PermissionsValid,
			Passphrase:       app.pass.Location(),
			Errors:           st.Errors,
		}

		// Only unlock when there is something to count; status never
		// creates a passphrase.
		hasPassphrase, err := app.pass.Exists()
		if err != nil {
			return err
		}
		if st.Exists && st.FormatValid && hasPassphrase {
			records, err := app.loadRecords()
			if err != nil {
				status.Errors = append(status.Errors, err.Error())
			} else {
				status.Records = len(records)
			}
		}

		out := cmd.OutOrStdout()
		if vaultStatusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}

		fmt.Fprintf(out, "Key storage: %s\n", ui.Path.Sprint(status.Path))
		fmt.Fprintf(out, "Passphrase:  %s\n", ui.Path.Sprint(status.Passphrase))
		if !status.Exists {
			fmt.Fprintln(out, ui.Warn("Key storage does not exist yet"))
			fmt.Fprintln(out, ui.Hint("Run "+ui.Code.Sprint("agevault key generate --name <name>")+" to create it"))
			return nil
		}
		fmt.Fprintf(out, "Version:     %d\n", status.Version)
		fmt.Fprintf(out, "Keys:        %d\n", status.Records)
		for _, e := range status.Errors {
			fmt.Fprintln(out, ui.Warn(e))
		}
		if len(status.Errors) == 0 {
			fmt.Fprintln(out, ui.OK("Key storage is healthy"))
		}
		return nil
	},
}
