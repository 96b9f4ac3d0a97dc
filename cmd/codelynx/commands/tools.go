package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/codelynx/internal/bridge"
)

func NewToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show which analysis tools are available",
		Long: `Probe every enabled tool once and print whether it can run here, its
version, and the reason when it cannot.`,
		RunE: runTools,
	}
	cmd.Flags().Bool("simulate", false, "Show the simulated tool set")
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("simulate") {
		cfg.Engine.Simulate, _ = cmd.Flags().GetBool("simulate")
	}
	env, err := newEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.results.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	printToolTable(env.registry.Availability(ctx))
	return nil
}

func printToolTable(tools []bridge.ToolInfo) {
	fmt.Println("Tool Availability:")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tBINARY\tAVAILABLE\tVERSION\tNOTE")
	for _, t := range tools {
		avail := "no"
		if t.Available {
			avail = "yes"
		}
		note := t.Reason
		if t.Simulated {
			note = "simulated"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.Binary, avail, dash(t.Version), dash(note))
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
