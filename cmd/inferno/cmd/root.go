package cmd

import (
	"fmt"
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/blacktop/inferno/internal/patchset"
	"github.com/blacktop/inferno/pkg/arm64asm"
	"github.com/blacktop/inferno/pkg/dsc"
	"github.com/blacktop/inferno/pkg/journal"
)

var (
	revertOnly   bool
	dryRun       bool
	unredactLogs bool
)

var rootCmd = &cobra.Command{
	Use:           "inferno [OPTIONS] <DYLD_CACHE_PATH>",
	Short:         "Patch software rendering and telephony shims into a dyld shared cache",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, args []string) error {
		return run(args[0])
	},
}

// Execute runs the root command, printing a `-h`-style usage block and
// exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s.\n\n", err)
		fmt.Fprint(os.Stderr, rootCmd.UsageString())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihandler.Default)

	rootCmd.Flags().BoolVarP(&revertOnly, "revert", "r", false,
		"Revert bytes to the original state, without reapplying patches.")
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false,
		"Revert bytes and run patcher, but do not apply the patch modifications.")
	rootCmd.Flags().BoolVar(&unredactLogs, "unredact-logs", false,
		"Patch libsystem_trace.dylib to unredact logs.")

	rootCmd.MarkFlagsMutuallyExclusive("revert", "dry-run")
}

func run(cachePath string) error {
	an, err := dsc.Open(cachePath)
	if err != nil {
		return err
	}

	log.Info("reverting bytes...")
	for _, c := range an.Caches {
		if err := journal.Revert(c.Path); err != nil {
			return err
		}
	}
	log.Info("bytes reverted successfully.")

	if revertOnly {
		return nil
	}

	queue := journal.NewQueue()
	asm := arm64asm.NewAssembler(queue)

	log.Info("building patches...")
	for _, p := range patchset.All() {
		if p.RequiresUnredact && !unredactLogs {
			continue
		}
		if err := p.Apply(an, asm, queue); err != nil {
			return errors.Wrapf(err, "patch `%s`", p.Name)
		}
	}
	log.Info("patches built successfully.")

	queue.PrintPending(os.Stdout)

	if !dryRun {
		log.Info("applying changes...")
		if err := queue.Commit(); err != nil {
			return err
		}
		log.Info("changes applied successfully.")
	}

	return nil
}
