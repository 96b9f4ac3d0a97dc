package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/codelynx/internal/reporting"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Scan a source tree with the configured tools",
		Long: `Run the selected static-analysis tools against a target and print a summary.
The target is a staging id, a registered direct scan id, or a local directory.
Tools that are missing or fail are reported but never abort the scan.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().StringSliceP("tools", "t", nil, "Tools to run (default engine.default_tools)")
	cmd.Flags().Bool("simulate", false, "Use simulated tools instead of spawning real ones")
	cmd.Flags().Duration("timeout", 30*time.Minute, "Overall scan timeout")
	cmd.Flags().Duration("tool-timeout", 0, "Per-tool timeout (default engine.tool_timeout)")
	cmd.Flags().IntP("parallel", "p", 0, "Tools to run at once (default engine.parallelism)")
	cmd.Flags().StringP("output", "o", "", "Write the session snapshot to this file (.json, .yaml, optional .gz)")
	cmd.Flags().Bool("save", false, "Also keep the snapshot in the results store")
	cmd.Flags().StringP("format", "f", "json", "Format used with --save (json, yaml)")
	cmd.Flags().Bool("findings", false, "Print every finding after the summary")

	_ = viper.BindPFlag("scan.tools", cmd.Flags().Lookup("tools"))
	_ = viper.BindPFlag("scan.timeout", cmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("scan.output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("scan.save", cmd.Flags().Lookup("save"))
	_ = viper.BindPFlag("scan.format", cmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("scan.findings", cmd.Flags().Lookup("findings"))

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)

	env, err := newEnvironment(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, viper.GetDuration("scan.timeout"))
	defer cancel()

	targetID, err := prepareTarget(env, args[0])
	if err != nil {
		return err
	}

	id, err := env.engine.StartScan(ctx, targetID, viper.GetStringSlice("scan.tools"))
	if err != nil {
		if id != "" {
			logrus.WithField("session_id", id).Error("Scan could not start")
		}
		return fmt.Errorf("failed to start scan: %w", err)
	}
	logrus.Infof("Scan started with ID: %s", id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchProgress(env, id, viper.GetBool("quiet"))
	}()

	session, err := env.engine.WaitSession(ctx, id)
	if err != nil {
		logrus.Warn("Scan interrupted, stopping tools...")
		shutdownCtx, c := context.WithTimeout(context.Background(), 15*time.Second)
		defer c()
		_ = env.engine.Shutdown(shutdownCtx)
		if session, err = env.engine.GetSession(id); err != nil {
			return err
		}
	}
	<-done

	return handleScanCompletion(env, session)
}

func applyScanFlags(cmd *cobra.Command, cfg *models.Config) {
	flags := cmd.Flags()
	if flags.Changed("simulate") {
		cfg.Engine.Simulate, _ = flags.GetBool("simulate")
	}
	if flags.Changed("tool-timeout") {
		cfg.Engine.ToolTimeout, _ = flags.GetDuration("tool-timeout")
	}
	if flags.Changed("parallel") {
		if n, _ := flags.GetInt("parallel"); n > 0 {
			cfg.Engine.Parallelism = n
		}
	}
}

// prepareTarget registers a local directory argument as a direct scan and
// passes anything else through to the resolver untouched.
func prepareTarget(env *environment, arg string) (string, error) {
	if !utils.IsDir(arg) {
		return arg, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	if err := env.resolver.RegisterDirect(abs, abs); err != nil {
		return "", err
	}
	return abs, nil
}

func watchProgress(env *environment, id string, quiet bool) {
	events, cancel := env.hub.Subscribe(id)
	defer cancel()

	current, err := env.engine.GetSession(id)
	if err != nil || current.Status.IsTerminal() {
		return
	}

	var out io.Writer = os.Stderr
	if quiet {
		out = io.Discard
	}
	tool := current.CurrentTool
	pct := current.Progress
	found := 0
	for ev := range events {
		switch ev.Type {
		case models.EventProgress:
			pct = ev.Percent()
			tool = ev.CurrentTool
		case models.EventFinding:
			if ev.RunningTotal != nil {
				found = *ev.RunningTotal
			}
		case models.EventCompleted:
			pct = 100
			tool = "done"
		case models.EventError:
			tool = "failed"
		}
		displayProgress(out, tool, pct, found)
		if ev.IsTerminal() {
			break
		}
	}
	fmt.Fprintln(out)
}

func displayProgress(w io.Writer, tool string, pct float64, found int) {
	const barWidth = 40
	completed := int(pct / 100 * barWidth)
	completed = min(max(completed, 0), barWidth)
	fmt.Fprintf(w, "\r[%s%s] %5.1f%% %-10s findings: %d",
		strings.Repeat("=", completed),
		strings.Repeat(" ", barWidth-completed),
		pct,
		tool,
		found,
	)
}

func handleScanCompletion(env *environment, session models.ScanSession) error {
	tm := newTemplateManager(env.config.Global.DataDir)
	builder := reporting.NewSummaryBuilder(nil)
	if err := tm.Render(os.Stdout, reporting.SummaryTemplate, builder.Build(session)); err != nil {
		return err
	}
	if viper.GetBool("scan.findings") {
		printFindings(os.Stdout, builder.Scorer().SortFindings(session.Findings))
	}

	if out := viper.GetString("scan.output"); out != "" {
		if err := exportSession(session, out); err != nil {
			return err
		}
		logrus.Infof("Session written to %s", out)
	}
	if viper.GetBool("scan.save") {
		ls, err := env.localStorage()
		if err != nil {
			return err
		}
		if _, err := ls.SaveSession(session, viper.GetString("scan.format")); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}

	if session.Status == models.StatusFailed {
		return errors.New("scan failed: " + session.Error)
	}
	return nil
}

// newTemplateManager adds any *.tmpl files under <data_dir>/templates to the
// built-in templates.
func newTemplateManager(dataDir string) *reporting.TemplateManager {
	tm := reporting.NewTemplateManager()
	dir := filepath.Join(dataDir, "templates")
	if utils.IsDir(dir) {
		if err := tm.LoadDir(dir); err != nil {
			logrus.Warnf("Ignoring custom templates: %v", err)
		}
	}
	return tm
}

func printFindings(w io.Writer, findings []models.Finding) {
	fmt.Fprintln(w, "\nFindings:")
	for _, f := range findings {
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		fmt.Fprintf(w, "  [%-8s] %-28s %s (%s)\n", f.Severity, f.Category, loc, f.Tool)
		if f.Description != "" {
			fmt.Fprintf(w, "             %s\n", f.Description)
		}
	}
}
