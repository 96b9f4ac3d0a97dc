package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func NewVersionCommand(version, commit, buildDate string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the CodeLynx build version, commit and toolchain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   version,
				Commit:    commit,
				BuildDate: buildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			if short, _ := cmd.Flags().GetBool("short"); short {
				fmt.Println(info.Version)
				return nil
			}
			fmt.Printf("CodeLynx Version: %s\n", info.Version)
			fmt.Printf("Git Commit: %s\n", info.Commit)
			fmt.Printf("Build Date: %s\n", info.BuildDate)
			fmt.Printf("Go Version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().Bool("short", false, "Print only the version number")
	cmd.Flags().Bool("json", false, "Print version information as JSON")
	return cmd
}
