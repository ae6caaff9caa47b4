package cmd

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/inspect"
	"github.com/dhcgn/mailbox-export/mbox"
	"github.com/dhcgn/mailbox-export/stats"
)

var (
	reportDir    string
	topN         int
	inspectLevel string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [mailbox file]",
	Short: "Show the folder tree of a mailbox file with item counts per class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, cleanup, err := setupLogger(inspectLevel, "", false)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		return runInspect(afero.NewOsFs(), args[0], logger)
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&reportDir, "report-dir", "r", "", "Also write "+inspect.ReportFile+" into this directory")
	inspectCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of most frequent item classes to display")
	inspectCmd.Flags().StringVar(&inspectLevel, "log-level", "warn", "Logging level: debug, info, warn, error")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(fs afero.Fs, path string, logger *slog.Logger) error {
	store, err := mbox.Open(fs, path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	root, err := store.RootFolder()
	if err != nil {
		return fmt.Errorf("root folder: %w", err)
	}

	census := inspect.Scan(root, logger)

	pterm.DefaultSection.Println("Folders of " + path)
	if err := pterm.DefaultTree.WithRoot(inspect.Tree(census)).Render(); err != nil {
		return err
	}

	fmt.Printf("Top %d item classes:\n", topN)
	stats.PrettyPrintTop(inspect.TopClasses(census), topN)

	if reportDir != "" {
		file, err := inspect.WriteReport(fs, census, reportDir)
		if err != nil {
			return fmt.Errorf("error saving CSV report: %w", err)
		}
		fmt.Printf("\nReport saved to: %s\n", file)
	}
	return nil
}
