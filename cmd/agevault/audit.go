package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/ui"
	"github.com/forest6511/agevault/pkg/vault"
)

// Audit flags
var (
	auditLimit int
	auditSince string

	auditExportFormat string
	auditExportSince  string
	auditExportUntil  string
	auditExportOutput string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "Export events since duration (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "Export events until date (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "Output file path (default: stdout)")
	_ = auditExportCmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions([]string{"json", "csv"}, cobra.ShellCompDirectiveNoFileComp))
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: `The audit log records key storage, key and engine operations. Events
carry key ids, never names or key material, and are chained with an HMAC
keyed by the storage passphrase.`,
}

// requirePassphrase unlocks without creating a passphrase: with no
// passphrase there can be no audit log to read.
func requirePassphrase() error {
	exists, err := app.pass.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("no storage passphrase yet, so there is no audit log")
	}
	_, err = app.unlock()
	return err
}

func sinceFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since format: %w", err)
	}
	return time.Now().Add(-d), nil
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag(auditSince)
		if err != nil {
			return err
		}

		events, err := app.audit.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		for _, event := range events {
			// Format: TIMESTAMP OPERATION RESULT [KEY]
			line := fmt.Sprintf("%s %s %s", event.Timestamp, event.Operation, event.Result)
			if event.Key != "" {
				line += " key:" + event.Key
			}
			if event.Error != nil {
				line += " error:" + event.Error.Code
			}
			fmt.Fprintln(out, line)
		}

		fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePassphrase(); err != nil {
			return err
		}

		result, err := app.audit.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if !result.Valid {
			fmt.Fprintln(out, ui.Fail("Audit log verification FAILED"))
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		}

		fmt.Fprintln(out, ui.OK(fmt.Sprintf("Audit log verified: %d records, chain intact", result.RecordsTotal)))
		if verboseFlag {
			data, _ := json.Marshal(result)
			fmt.Fprintf(out, "\nJSON: %s\n", data)
		}
		return nil
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs to JSON or CSV format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditExportFormat != "json" && auditExportFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'json' or 'csv')", auditExportFormat)
		}

		since, err := sinceFlag(auditExportSince)
		if err != nil {
			return err
		}
		var until time.Time
		if auditExportUntil != "" {
			until, err = time.Parse(time.RFC3339, auditExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		if auditExportOutput == "" {
			return app.audit.Export(cmd.OutOrStdout(), auditExportFormat, since, until)
		}

		f, err := os.OpenFile(auditExportOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, vault.FileMode)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if err := app.audit.Export(f, auditExportFormat, since, until); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), ui.OK("Audit logs exported to "+ui.Path.Sprint(auditExportOutput)))
		return nil
	},
}
