package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show runtime statistics",
		Long:  `Show engine settings, tool availability and saved result statistics.`,
		RunE:  runStats,
	}
	cmd.Flags().Bool("no-probe", false, "Skip probing the tools")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	env, err := newEnvironment(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer env.results.Close()

	stats := env.engine.GetStats()

	fmt.Println("Runtime Statistics:")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Active Sessions:\t%v\n", stats["active_sessions"])
	fmt.Fprintf(w, "Parallelism:\t%v\n", stats["parallelism"])
	fmt.Fprintf(w, "Tool Timeout:\t%v\n", stats["tool_timeout"])
	fmt.Fprintf(w, "Simulated Tools:\t%v\n", stats["simulate"])
	if tools, ok := stats["default_tools"].([]string); ok {
		fmt.Fprintf(w, "Default Tools:\t%s\n", strings.Join(tools, ", "))
	}
	fmt.Fprintf(w, "Staging Root:\t%s\n", env.resolver.StagingRoot())
	fmt.Fprintf(w, "Namespace:\t%s\n", dash(cfg.Namespace.Mode))
	_ = w.Flush()

	if noProbe, _ := cmd.Flags().GetBool("no-probe"); !noProbe {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		available := 0
		infos := env.registry.Availability(ctx)
		for _, t := range infos {
			if t.Available {
				available++
			}
		}
		fmt.Printf("\nTools Available: %d/%d\n", available, len(infos))
	}

	ls, err := env.localStorage()
	if err != nil {
		logrus.Warnf("Results storage unavailable: %v", err)
		return nil
	}
	saved, err := ls.GetStorageStats()
	if err != nil {
		logrus.Warnf("Failed to read results storage: %v", err)
		return nil
	}
	size, _ := saved["total_size_bytes"].(int64)
	fmt.Printf("Saved Sessions: %v (%s in %s)\n", saved["sessions"], utils.HumanizeBytes(size), ls.BaseDir())
	return nil
}
