package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/internal/cli"
	"github.com/forest6511/agevault/internal/ui"
	"github.com/forest6511/agevault/pkg/audit"
	"github.com/forest6511/agevault/pkg/vault"
)

// Encrypt and decrypt flags
var (
	encryptTo       []string
	encryptArmor    bool
	fileOutput      string
	decryptKey      string
	decryptIdentity string
)

func init() {
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)

	for _, c := range []*cobra.Command{encryptCmd, decryptCmd} {
		c.Flags().StringVarP(&fileOutput, "output", "o", "", "Output file")
		_ = c.MarkFlagRequired("output")
	}

	encryptCmd.Flags().StringArrayVarP(&encryptTo, "to", "t", nil, "Recipient: stored key name, id or glob, or an age1/ssh public key (repeatable)")
	encryptCmd.Flags().BoolVarP(&encryptArmor, "armor", "a", false, "Write PEM-armored output")
	_ = encryptCmd.MarkFlagRequired("to")
	_ = encryptCmd.RegisterFlagCompletionFunc("to", completeKeyRefs)

	decryptCmd.Flags().StringVarP(&decryptKey, "key", "k", "", "Stored key name or id to decrypt with")
	decryptCmd.Flags().StringVarP(&decryptIdentity, "identity", "i", "", "Identity file to decrypt with")
	decryptCmd.MarkFlagsMutuallyExclusive("key", "identity")
	decryptCmd.MarkFlagsOneRequired("key", "identity")
	_ = decryptCmd.RegisterFlagCompletionFunc("key", completeKeyRefs)
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <input>",
	Short: "Encrypt a file to one or more recipients",
	Long: `Encrypts a file with age.

Examples:
  agevault encrypt report.pdf -o report.pdf.age --to work-laptop
  agevault encrypt notes.txt -o notes.age --to "team-*" --to age1qyqs...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var records []vault.KeyRecord
		if needsStoredKeys(encryptTo) {
			var err error
			if records, err = app.loadRecords(); err != nil {
				return err
			}
		} else if _, err := app.unlock(); err != nil {
			return err
		}

		recipients, err := cli.Recipients(encryptTo, records)
		if err != nil {
			return err
		}

		res, err := app.bridge.EncryptFile(cmd.Context(), args[0], fileOutput, recipients, encryptArmor)
		app.record(audit.OpFileEncrypt, "", err, map[string]interface{}{
			"recipients": len(recipients),
			"armor":      encryptArmor,
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.OK(fmt.Sprintf("Encrypted %s to %d recipients: %s",
			ui.Path.Sprint(res.InputFile), res.RecipientCount, ui.Path.Sprint(res.OutputFile))))
		return nil
	},
}

func needsStoredKeys(specs []string) bool {
	for _, s := range specs {
		if !cli.IsRawRecipient(s) {
			return true
		}
	}
	return false
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <input>",
	Short: "Decrypt a file with a stored key or an identity file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := decryptIdentity
		keyID := ""

		if decryptKey != "" {
			records, err := app.loadRecords()
			if err != nil {
				return err
			}
			rec, err := vault.Lookup(records, decryptKey)
			if err != nil {
				return err
			}
			identity, err = rec.Identity()
			if errors.Is(err, vault.ErrIdentityMissing) {
				return fmt.Errorf("key %q holds only a public key and cannot decrypt", rec.Name)
			}
			if err != nil {
				return err
			}
			keyID = rec.ID
		} else if _, err := app.unlock(); err != nil {
			return err
		}

		res, err := app.bridge.DecryptFile(cmd.Context(), args[0], fileOutput, identity)
		app.record(audit.OpFileDecrypt, keyID, err, nil)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.OK(fmt.Sprintf("Decrypted %s to %s",
			ui.Path.Sprint(res.InputFile), ui.Path.Sprint(res.OutputFile))))
		return nil
	},
}
