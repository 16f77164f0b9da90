package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/aipolicy/internal/config"
)

var (
	resetIncludeAudit bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset aipolicy to a clean state",
	Long: `Reset aipolicy by removing persistent state files.

By default only state.json and its backup are removed. This clears every
role assignment and the policy parameters; on next start the configured
policy.owner and policy.oracle are installed again.

Optional flags:
  --include-audit   Also remove the sqlite audit database
  --force           Skip confirmation prompt

Examples:
  aipolicy reset
  aipolicy reset --include-audit --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove the sqlite audit database")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	targets := resetTargets(resolveStatePath(cfg), cfg.SQLitePath(), resetIncludeAudit)
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset, no state files found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range targets {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce && !confirm(os.Stdin, os.Stderr) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return nil
	}

	store := state.NewFileStateStore(resolveStatePath(cfg), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.Remove(); err != nil {
		return err
	}
	for _, t := range targets {
		if t.desc != "audit database" {
			continue
		}
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", t.path, err)
		}
	}

	fmt.Fprintln(os.Stderr, "Reset complete. aipolicy will start fresh on next launch.")
	return nil
}

// resetTargets lists the existing files a reset would remove.
func resetTargets(statePath, auditPath string, includeAudit bool) []resetTarget {
	candidates := []resetTarget{
		{statePath, "state file"},
		{statePath + ".bak", "state backup"},
	}
	if includeAudit && auditPath != "" {
		candidates = append(candidates,
			resetTarget{auditPath, "audit database"},
			resetTarget{auditPath + "-wal", "audit database"},
			resetTarget{auditPath + "-shm", "audit database"},
		)
	}

	var existing []resetTarget
	for _, t := range candidates {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}
	return existing
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "\nProceed? [y/N] ")
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(answer)
	return answer == "y" || answer == "Y"
}
