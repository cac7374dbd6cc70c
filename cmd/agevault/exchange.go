package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/cli"
	"github.com/forest6511/agevault/internal/ui"
	"github.com/forest6511/agevault/pkg/audit"
	"github.com/forest6511/agevault/pkg/exchange"
	"github.com/forest6511/agevault/pkg/vault"
)

// Export and import flags
var (
	exportOutput     string
	exportKeys       []string
	exportPublicOnly bool
	exportForce      bool

	exchangePassphraseFile string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Export file (\""+exchange.FileExtension+"\" added when there is no extension)")
	exportCmd.Flags().StringSliceVarP(&exportKeys, "key", "k", nil, "Keys to export by name or id (glob pattern supported)")
	exportCmd.Flags().BoolVar(&exportPublicOnly, "public-only", false, "Leave private keys out of the export")
	exportCmd.Flags().BoolVar(&exportForce, "force", false, "Overwrite an existing file without confirmation")
	_ = exportCmd.RegisterFlagCompletionFunc("key", completeKeyRefs)
	_ = exportCmd.MarkFlagRequired("output")

	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().StringVar(&exchangePassphraseFile, "passphrase-file", "", "Read the export passphrase from the first line of a file")
	}
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export keys to a passphrase-protected file",
	Long: `Exports stored keys to a file encrypted with a passphrase you choose.

Examples:
  # Export every key
  agevault export -o keys

  # Export selected keys
  agevault export -k "work-*" -k backup -o work.agekeys`,
	Args: cobra.NoArgs,
	RunE: executeExport,
}

func executeExport(cmd *cobra.Command, args []string) error {
	records, err := app.loadRecords()
	if err != nil {
		return err
	}
	if len(exportKeys) > 0 {
		records, err = cli.ExpandPatterns(exportKeys, records)
		if err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return errors.New("no keys to export")
	}
	if exportPublicOnly {
		for i := range records {
			records[i] = records[i].PublicOnly()
		}
	}

	dest := exchange.ExportPath(exportOutput)
	if _, err := os.Stat(dest); err == nil && !exportForce {
		if !confirm(fmt.Sprintf("%s exists. Overwrite?", dest)) {
			return fmt.Errorf("%s exists (use --force to overwrite)", dest)
		}
	}

	pass, err := readPassphrase("Export passphrase", exchangePassphraseFile, true)
	if err != nil {
		return err
	}
	check, err := exchange.ValidatePassphrase(pass)
	if err != nil {
		return err
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "Passphrase strength: %s\n", check.Strength)
	for _, w := range check.Warnings {
		fmt.Fprintln(errOut, ui.Warn(w))
	}

	sp := ui.StartSpinner("Encrypting export...", quiet())
	path, err := exchange.Export(pass, records, dest)
	ctx := map[string]interface{}{"records": len(records), "public_only": exportPublicOnly}
	app.record(audit.OpKeysExport, "", err, ctx)
	if err != nil {
		sp.Failed("Export failed")
		return err
	}
	sp.Stop("")

	fmt.Fprintln(cmd.OutOrStdout(), ui.OK(fmt.Sprintf("Exported %d keys to %s", len(records), ui.Path.Sprint(path))))
	if !exportPublicOnly {
		fmt.Fprintln(errOut, ui.Hint("The file contains private keys; anyone with the passphrase can use them"))
	}
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import keys from an export file",
	Long: `Imports keys from a file written by 'agevault export'.

Keys are merged by id: keys already stored are kept unchanged and counted
as duplicates.`,
	Args: cobra.ExactArgs(1),
	RunE: executeImport,
}

func executeImport(cmd *cobra.Command, args []string) error {
	src := args[0]
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", exchange.ErrExportNotFound, src)
	}

	existing, err := app.loadRecords()
	if err != nil {
		return err
	}

	pass, err := readPassphrase("Export passphrase", exchangePassphraseFile, false)
	if err != nil {
		return err
	}

	sp := ui.StartSpinner("Decrypting export...", quiet())
	merged, report, err := exchange.ImportInto(existing, pass, src)
	if err != nil {
		sp.Failed("Import failed")
		app.record(audit.OpKeysImport, "", err, nil)
		if errors.Is(err, vault.ErrUnlockFailed) {
			return fmt.Errorf("%w (wrong passphrase or damaged file)", err)
		}
		return err
	}
	sp.Stop("")

	if report.Added > 0 {
		if err := app.saveRecords(merged); err != nil {
			app.record(audit.OpKeysImport, "", err, nil)
			return err
		}
	}
	app.record(audit.OpKeysImport, "", nil, map[string]interface{}{
		"added":      report.Added,
		"duplicates": report.Duplicates,
	})

	fmt.Fprintln(cmd.OutOrStdout(), ui.OK(fmt.Sprintf("%d new, %d duplicate", report.Added, report.Duplicates)))
	return nil
}
