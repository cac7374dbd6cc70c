package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/cli"
	"github.com/forest6511/agevault/internal/ui"
	"github.com/forest6511/agevault/pkg/audit"
	"github.com/forest6511/agevault/pkg/importer"
	"github.com/forest6511/agevault/pkg/vault"
)

// Key command flags
var (
	keyListPublic bool
	keyListJSON   bool

	keyName        string
	keyComment     string
	keyPublic      string
	keyPrivateFile string

	keyShowPrivate bool

	keyImportFormat string
)

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyAddCmd)
	keyCmd.AddCommand(keyDeleteCmd)
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyImportFileCmd)

	keyListCmd.Flags().BoolVar(&keyListPublic, "public", false, "Show full public keys")
	keyListCmd.Flags().BoolVar(&keyListJSON, "json", false, "Output as JSON (public fields only)")

	for _, c := range []*cobra.Command{keyGenerateCmd, keyAddCmd} {
		c.Flags().StringVarP(&keyName, "name", "n", "", "Key name")
		c.Flags().StringVarP(&keyComment, "comment", "c", "", "Comment stored with the key")
		_ = c.MarkFlagRequired("name")
	}
	keyAddCmd.Flags().StringVar(&keyPublic, "public", "", "Public key (age1... or ssh-...)")
	keyAddCmd.Flags().StringVar(&keyPrivateFile, "private-file", "", "Identity file holding the private key")

	keyShowCmd.Flags().BoolVar(&keyShowPrivate, "private", false, "Also print the private key")

	keyImportFileCmd.Flags().StringVarP(&keyName, "name", "n", "", "Name for keys without one (default: file name)")
	keyImportFileCmd.Flags().StringVar(&keyImportFormat, "format", "auto",
		"Input format: auto, "+strings.Join(importer.ValidSources(), ", "))
	_ = keyImportFileCmd.RegisterFlagCompletionFunc("format",
		cobra.FixedCompletions(append([]string{"auto"}, importer.ValidSources()...), cobra.ShellCompDirectiveNoFileComp))
}

// keyCmd is the parent command for key operations
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage stored keys",
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := app.loadRecords()
		if err != nil {
			return err
		}
		records = cli.SortRecords(records)
		out := cmd.OutOrStdout()

		if keyListJSON {
			public := make([]vault.KeyRecord, 0, len(records))
			for _, r := range records {
				public = append(public, r.PublicOnly())
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(public)
		}

		if len(records) == 0 {
			fmt.Fprintln(out, "No keys stored")
			return nil
		}
		printKeyTable(out, records, keyListPublic)
		return nil
	},
}

func printKeyTable(w io.Writer, records []vault.KeyRecord, fullPublic bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tTYPE\tCREATED\tPUBLIC KEY")
	for _, r := range records {
		kind := "recipient"
		if r.HasIdentity() {
			kind = "identity"
		}
		pub := r.PublicKey
		if !fullPublic && len(pub) > 24 {
			pub = pub[:20] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, shortID(r.ID), kind, r.Created().Local().Format("2006-01-02"), pub)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d keys\n", len(records))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new age key pair and store it",
	Long: `Generates a key pair with age-keygen and stores it.

If age is not installed, agevault offers to install it with the platform
package manager.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := app.loadRecords()
		if err != nil {
			return err
		}

		pair, err := app.bridge.GenerateKeyPair(cmd.Context(), optional(keyComment))
		if err != nil {
			app.record(audit.OpKeyGenerate, "", err, nil)
			return err
		}
		rec, err := vault.NewKeyRecord(keyName, pair.PublicKey, &pair.PrivateKey, pair.Comment)
		if err != nil {
			return err
		}
		app.record(audit.OpKeyGenerate, rec.ID, nil, nil)

		if err := storeRecord(records, rec); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.OK("Generated key "+ui.Highlight.Sprint(rec.Name)+" "+ui.Muted.Sprint(rec.ID)))
		fmt.Fprintf(out, "Public key: %s\n", rec.PublicKey)
		return nil
	},
}

// storeRecord appends rec and saves.
func storeRecord(records []vault.KeyRecord, rec vault.KeyRecord) error {
	for _, r := range records {
		if r.PublicKey == rec.PublicKey {
			return fmt.Errorf("public key already stored as %q (%s)", r.Name, r.ID)
		}
	}
	err := app.saveRecords(append(records, rec))
	app.record(audit.OpKeyStore, rec.ID, err, nil)
	return err
}

var keyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store an existing public key, optionally with its private key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var private *string
		if keyPrivateFile != "" {
			identity, publicKey, err := readIdentityFile(cmd.Context(), keyPrivateFile)
			if err != nil {
				return err
			}
			private = &identity
			if keyPublic == "" {
				keyPublic = publicKey
			}
		}
		if keyPublic == "" {
			return fmt.Errorf("--public or --private-file is required")
		}

		rec, err := vault.NewKeyRecord(keyName, keyPublic, private, optional(keyComment))
		if err != nil {
			return err
		}
		records, err := app.loadRecords()
		if err != nil {
			return err
		}
		if err := storeRecord(records, rec); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.OK("Stored key "+ui.Highlight.Sprint(rec.Name)+" "+ui.Muted.Sprint(rec.ID)))
		return nil
	},
}

// readIdentityFile returns the single secret key in path and its public
// key, taken from the "# public key:" comment or derived with age-keygen.
func readIdentityFile(ctx context.Context, path string) (identity, publicKey string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read identity file: %w", err)
	}
	res, err := (&importer.IdentityParser{}).Parse(data, importer.ParseOptions{
		Name: filepath.Base(path),
		DeriveRecipient: func(secret string) (string, error) {
			return app.bridge.DeriveRecipient(ctx, secret)
		},
	})
	if err != nil {
		return "", "", err
	}
	if len(res.Records) != 1 {
		return "", "", fmt.Errorf("%s holds %d keys, use 'agevault key import-file' instead", path, len(res.Records))
	}
	identity, err = res.Records[0].Identity()
	if err != nil {
		return "", "", err
	}
	return identity, res.Records[0].PublicKey, nil
}

var keyDeleteCmd = &cobra.Command{
	Use:               "delete <id|name>",
	Short:             "Delete a stored key",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeKeyRefs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := app.loadRecords()
		if err != nil {
			return err
		}
		rec, err := vault.Lookup(records, args[0])
		if err != nil {
			return err
		}

		if rec.HasIdentity() && !confirm(fmt.Sprintf("Delete key %q (%s)? Files encrypted to it can no longer be decrypted.", rec.Name, rec.ID)) {
			return fmt.Errorf("aborted")
		}

		remaining, _ := vault.Delete(records, rec.ID)
		err = app.saveRecords(remaining)
		app.record(audit.OpKeyDelete, rec.ID, err, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.OK("Deleted key "+ui.Highlight.Sprint(rec.Name)))
		return nil
	},
}

var keyShowCmd = &cobra.Command{
	Use:               "show <id|name>",
	Short:             "Show a stored key",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeKeyRefs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := app.loadRecords()
		if err != nil {
			return err
		}
		rec, err := vault.Lookup(records, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:       %s\n", rec.Name)
		fmt.Fprintf(out, "ID:         %s\n", rec.ID)
		fmt.Fprintf(out, "Created:    %s\n", rec.Created().Local().Format(time.RFC3339))
		fmt.Fprintf(out, "Public key: %s\n", rec.PublicKey)
		if rec.Comment != nil {
			fmt.Fprintf(out, "Comment:    %s\n", *rec.Comment)
		}
		if !rec.HasIdentity() {
			fmt.Fprintln(out, "Private key: (none)")
			return nil
		}
		if !keyShowPrivate {
			fmt.Fprintln(out, "Private key: stored "+ui.Muted.Sprint("use --private to print"))
			return nil
		}
		identity, _ := rec.Identity()
		fmt.Fprintf(out, "Private key: %s\n", identity)
		return nil
	},
}

var keyImportFileCmd = &cobra.Command{
	Use:   "import-file <file>",
	Short: "Import keys from an age identity file or recipients file",
	Long: `Imports keys from a file written by age-keygen, or from a recipients
file with one public key per line.

Keys whose public key is already stored are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: executeKeyImportFile,
}

func executeKeyImportFile(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	source := importer.Source(keyImportFormat)
	if keyImportFormat == "auto" {
		source = importer.DetectSource(data)
	}
	parser, err := importer.GetParser(source)
	if err != nil {
		return err
	}

	name := keyName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	ctx := cmd.Context()
	result, err := parser.Parse(data, importer.ParseOptions{
		Name: name,
		DeriveRecipient: func(identity string) (string, error) {
			return app.bridge.DeriveRecipient(ctx, identity)
		},
	})
	if err != nil {
		return err
	}

	records, err := app.loadRecords()
	if err != nil {
		return err
	}
	incoming, known := dropKnownPublicKeys(records, result.Records)
	merged, report := vault.Merge(records, incoming)
	report.Duplicates += known

	if report.Added > 0 {
		if err := app.saveRecords(merged); err != nil {
			app.record(audit.OpKeysImport, "", err, nil)
			return err
		}
	}
	app.record(audit.OpKeysImport, "", nil, map[string]interface{}{
		"source":     string(source),
		"added":      report.Added,
		"duplicates": report.Duplicates,
	})

	out := cmd.OutOrStdout()
	for _, w := range result.Warnings {
		fmt.Fprintln(out, ui.Warn(w))
	}
	for _, s := range result.Skipped {
		fmt.Fprintln(out, ui.Warn(fmt.Sprintf("line %d skipped: %s", s.Line, s.Reason)))
	}
	fmt.Fprintln(out, ui.OK(fmt.Sprintf("%d new, %d duplicate", report.Added, report.Duplicates)))
	return nil
}

// dropKnownPublicKeys removes incoming records whose public key is
// already stored and reports how many were dropped.
func dropKnownPublicKeys(existing, incoming []vault.KeyRecord) ([]vault.KeyRecord, int) {
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[r.PublicKey] = true
	}
	var kept []vault.KeyRecord
	dropped := 0
	for _, r := range incoming {
		if known[r.PublicKey] {
			dropped++
			continue
		}
		known[r.PublicKey] = true
		kept = append(kept, r)
	}
	return kept, dropped
}
