package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/codelynx/internal/reporting"
	"github.com/bl4ck0w1/codelynx/internal/storage"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func NewResultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Manage saved scan results",
		Long: `List, view, export and clean up session snapshots saved with
"codelynx scan --save".`,
	}
	cmd.AddCommand(newResultsListCommand())
	cmd.AddCommand(newResultsViewCommand())
	cmd.AddCommand(newResultsExportCommand())
	cmd.AddCommand(newResultsDeleteCommand())
	cmd.AddCommand(newResultsCleanupCommand())
	cmd.AddCommand(newResultsStatsCommand())
	return cmd
}

func newResultsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		RunE:  runResultsList,
	}
}

func newResultsViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <session-id>",
		Short: "View a saved session",
		Long:  `Print a saved session as a summary, or dump the raw snapshot as JSON or YAML.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runResultsView,
	}
	cmd.Flags().StringP("format", "f", "summary", "Output format (summary, json, yaml)")
	cmd.Flags().Bool("findings", false, "List findings after the summary")
	return cmd
}

func newResultsExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <session-id> <path>",
		Short: "Copy a saved session to a file",
		Long:  `Write a saved session to path. The extension picks the format (.json, .yaml) and a trailing .gz compresses it.`,
		Args:  cobra.ExactArgs(2),
		RunE:  runResultsExport,
	}
}

func newResultsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE:  runResultsDelete,
	}
}

func newResultsCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old saved sessions",
		Long:  `Remove exports older than the retention period (storage.retention unless --older-than is given).`,
		RunE:  runResultsCleanup,
	}
	cmd.Flags().String("older-than", "", "Delete exports older than this duration (e.g. 720h, 30d)")
	return cmd
}

func newResultsStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show results storage statistics",
		RunE:  runResultsStats,
	}
}

func openStorage() (*storage.LocalStorage, *models.Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	ls, err := openLocalStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	return ls, cfg, nil
}

func runResultsList(cmd *cobra.Command, args []string) error {
	ls, _, err := openStorage()
	if err != nil {
		return err
	}
	sessions, err := ls.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		logrus.Info("No saved sessions found")
		return nil
	}

	fmt.Printf("Saved sessions in %s:\n", ls.BaseDir())
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tTARGET\tSTATUS\tFINDINGS\tFAILED TOOLS\tSTARTED")
	for i := range sessions {
		s := &sessions[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID,
			s.TargetID,
			s.Status,
			len(s.Findings),
			len(s.FailedTools()),
			s.StartTime.Local().Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
	return nil
}

func runResultsView(cmd *cobra.Command, args []string) error {
	ls, cfg, err := openStorage()
	if err != nil {
		return err
	}
	session, err := ls.LoadSession(args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	case "yaml", "yml":
		out, err := yaml.Marshal(session)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	case "summary", "":
	default:
		return fmt.Errorf("unsupported format %q", format)
	}

	tm := newTemplateManager(cfg.Global.DataDir)
	builder := reporting.NewSummaryBuilder(nil)
	if err := tm.Render(os.Stdout, reporting.SummaryTemplate, builder.Build(*session)); err != nil {
		return err
	}
	if withFindings, _ := cmd.Flags().GetBool("findings"); withFindings {
		printFindings(os.Stdout, builder.Scorer().SortFindings(session.Findings))
	}
	return nil
}

func runResultsExport(cmd *cobra.Command, args []string) error {
	ls, _, err := openStorage()
	if err != nil {
		return err
	}
	session, err := ls.LoadSession(args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := exportSession(*session, args[1]); err != nil {
		return err
	}
	logrus.Infof("Session %s written to %s", session.ID, args[1])
	return nil
}

func exportSession(session models.ScanSession, path string) error {
	if err := storage.ExportTo(session, path); err != nil {
		return fmt.Errorf("failed to export session: %w", err)
	}
	return nil
}

func runResultsDelete(cmd *cobra.Command, args []string) error {
	ls, _, err := openStorage()
	if err != nil {
		return err
	}
	if err := ls.DeleteSession(args[0]); err != nil {
		return err
	}
	logrus.Infof("Deleted session %s", args[0])
	return nil
}

func runResultsCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	retention := cfg.Storage.Retention
	if olderThan, _ := cmd.Flags().GetString("older-than"); olderThan != "" {
		if retention, err = utils.ParseDurationExtended(olderThan); err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
	}
	if retention <= 0 {
		logrus.Info("Retention is disabled, nothing to clean up")
		return nil
	}

	ls, err := storage.NewLocalStorage(cfg.Storage.Path, cfg.Storage.Compression, retention, logrus.StandardLogger())
	if err != nil {
		return err
	}
	logrus.Infof("Cleaning up exports older than %s", utils.HumanizeDuration(retention))
	removed, err := ls.Cleanup()
	if err != nil {
		return err
	}
	logrus.Infof("Removed %d files", removed)
	return nil
}

func runResultsStats(cmd *cobra.Command, args []string) error {
	ls, _, err := openStorage()
	if err != nil {
		return err
	}
	stats, err := ls.GetStorageStats()
	if err != nil {
		return fmt.Errorf("failed to get storage statistics: %w", err)
	}

	fmt.Println("Results Storage:")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Location:\t%s\n", ls.BaseDir())
	fmt.Fprintf(w, "Sessions:\t%v\n", stats["sessions"])
	fmt.Fprintf(w, "Files:\t%v\n", stats["files"])
	fmt.Fprintf(w, "Total Size:\t%s\n", utils.HumanizeBytes(stats["total_size_bytes"].(int64)))
	fmt.Fprintf(w, "Compression:\t%v\n", stats["compression_enabled"])
	fmt.Fprintf(w, "Retention:\t%v\n", stats["retention_period"])
	_ = w.Flush()
	return nil
}
