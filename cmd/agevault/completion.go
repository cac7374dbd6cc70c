package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/agevault/pkg/vault"
)

// completionEnv opts in to completing stored key names.
const completionEnv = "AGEVAULT_COMPLETION_ENABLED"

var completionNoDesc bool

var completionGenerators = map[string]func(root *cobra.Command, w io.Writer, desc bool) error{
	"bash": func(root *cobra.Command, w io.Writer, desc bool) error {
		return root.GenBashCompletionV2(w, desc)
	},
	"zsh": func(root *cobra.Command, w io.Writer, desc bool) error {
		if desc {
			return root.GenZshCompletion(w)
		}
		return root.GenZshCompletionNoDesc(w)
	},
	"fish": func(root *cobra.Command, w io.Writer, desc bool) error {
		return root.GenFishCompletion(w, desc)
	},
	"powershell": func(root *cobra.Command, w io.Writer, desc bool) error {
		if desc {
			return root.GenPowerShellCompletionWithDesc(w)
		}
		return root.GenPowerShellCompletion(w)
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script",
	Long: `Prints a completion script for bash, zsh, fish or powershell.

Commands, flags and --format values always complete. Key names for
'key show', 'key delete', 'encrypt --to', 'decrypt --key' and
'export --key' complete only when ` + completionEnv + `=1 is set:
every completion then opens the key storage, which costs a key
derivation, and it only succeeds once a passphrase already exists.

Example:
  agevault completion zsh > "${fpath[1]}/_agevault"`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, ok := completionGenerators[args[0]]
		if !ok {
			return fmt.Errorf("unsupported shell %q", args[0])
		}
		return gen(cmd.Root(), cmd.OutOrStdout(), !completionNoDesc)
	},
}

func init() {
	completionCmd.Flags().BoolVar(&completionNoDesc, "no-descriptions", false, "Omit completion descriptions")
	rootCmd.AddCommand(completionCmd)
}

// completeKeyRefs completes stored key names when completionEnv is set.
func completeKeyRefs(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if os.Getenv(completionEnv) != "1" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	records, err := recordsForCompletion()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return filterNames(vault.Names(records), toComplete), cobra.ShellCompDirectiveNoFileComp
}

// recordsForCompletion loads records without prompting and without
// creating a passphrase. Pre-run hooks do not run during completion, so
// the session is built here.
func recordsForCompletion() ([]vault.KeyRecord, error) {
	s := app
	if s == nil {
		var err error
		if s, err = newSession(); err != nil {
			return nil, err
		}
	}
	exists, err := s.pass.Exists()
	if err != nil || !exists {
		return nil, err
	}
	p, err := s.pass.GetOrCreate()
	if err != nil {
		return nil, err
	}
	return s.store.Load("", p.Bytes())
}

// filterNames returns unique names with the given prefix, ignoring case.
func filterNames(names []string, prefix string) []string {
	seen := make(map[string]bool, len(names))
	var filtered []string
	lowerPrefix := strings.ToLower(prefix)
	for _, name := range names {
		if seen[name] || !strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			continue
		}
		seen[name] = true
		filtered = append(filtered, name)
	}
	return filtered
}
