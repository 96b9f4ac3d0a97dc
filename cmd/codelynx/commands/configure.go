package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage CodeLynx configuration",
		Long: `Manage CodeLynx configuration profiles, view the effective settings,
and initialize configuration files.`,
	}

	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	cmd.AddCommand(newConfigureListCommand())
	cmd.AddCommand(newConfigureSetCommand())
	cmd.AddCommand(newConfigureGetCommand())
	cmd.AddCommand(newConfigureValidateCommand())
	return cmd
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [profile]",
		Short: "Initialize a new configuration profile",
		Long:  `Write a profile with every default value to $HOME/.codelynx/<profile>.yaml.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing profile without asking")
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after defaults, config file and CODELYNX_* environment overrides are merged.`,
		RunE:  runConfigureShow,
	}
}

func newConfigureListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available configuration profiles",
		RunE:  runConfigureList,
	}
}

func newConfigureSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a value in the selected profile.
Supports dotted keys (e.g. "engine.parallelism") and basic type parsing:
- booleans: true/false
- integers/floats: 10, 3.14
- durations (for keys containing timeout|delay|retention|ttl): "30m", "10s"
- string lists: "a,b,c" -> ["a","b","c"]`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigureSet,
	}
	cmd.Flags().StringP("profile", "p", "config", "Configuration profile")
	return cmd
}

func newConfigureGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigureGet,
	}
	cmd.Flags().StringP("profile", "p", "config", "Configuration profile")
	return cmd
}

func newConfigureValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureValidate,
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".codelynx"), nil
}

func profilePath(profile string) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, profile+".yaml"), nil
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	profile := "config"
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		profile = strings.TrimSpace(args[0])
	}
	configFile, err := profilePath(profile)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(configFile); err == nil && !force {
		logrus.Warnf("Configuration file already exists: %s", configFile)
		ok, ierr := confirmOverwrite()
		if ierr != nil {
			return ierr
		}
		if !ok {
			logrus.Info("Configuration initialization cancelled")
			return nil
		}
	}

	if err := models.DefaultConfig().Save(configFile); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	logrus.Infof("Configuration initialized: %s", configFile)
	if profile != "config" {
		logrus.Infof("Use it with `codelynx --config %s`", configFile)
	}
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Effective configuration:")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "GENERAL SETTINGS:\t")
	fmt.Fprintf(w, "  Log Level:\t%s\n", cfg.Global.LogLevel)
	fmt.Fprintf(w, "  Log Format:\t%s\n", cfg.Global.LogFormat)
	fmt.Fprintf(w, "  Data Directory:\t%s\n", cfg.Global.DataDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ENGINE SETTINGS:\t")
	fmt.Fprintf(w, "  Default Tools:\t%s\n", strings.Join(cfg.Engine.DefaultTools, ", "))
	fmt.Fprintf(w, "  Tool Timeout:\t%s\n", cfg.Engine.ToolTimeout)
	fmt.Fprintf(w, "  Parallelism:\t%d\n", cfg.Engine.Parallelism)
	fmt.Fprintf(w, "  Simulate:\t%t\n", cfg.Engine.Simulate)
	fmt.Fprintf(w, "  Spawn Rate:\t%.1f/s\n", cfg.Engine.SpawnRate)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "TARGETS:\t")
	fmt.Fprintf(w, "  Staging Root:\t%s\n", cfg.Resolver.StagingRoot)
	fmt.Fprintf(w, "  Direct Roots:\t%v\n", cfg.Resolver.DirectRoots)
	fmt.Fprintf(w, "  Absolute Paths:\t%t\n", cfg.Resolver.AllowAbsolute)
	fmt.Fprintf(w, "  Namespace Mode:\t%s\n", cfg.Namespace.Mode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "TOOLS:\t")
	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := cfg.Tools[name]
		fmt.Fprintf(w, "  %s:\tenabled=%t binary=%s min_version=%s\n", name, t.Enabled, t.Binary, dash(t.MinVersion))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SERVER:\t")
	fmt.Fprintf(w, "  API:\t%s:%d (max %d connections)\n", cfg.API.Host, cfg.API.Port, cfg.API.MaxConnections)
	fmt.Fprintf(w, "  Metrics:\tenabled=%t port=%d path=%s\n", cfg.Metrics.Enabled, cfg.Metrics.Port, cfg.Metrics.Path)
	fmt.Fprintf(w, "  Results:\t%s (retention %s)\n", cfg.Storage.Path, cfg.Storage.Retention)

	_ = w.Flush()
	return nil
}

func runConfigureList(cmd *cobra.Command, args []string) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to list configuration files: %w", err)
	}
	if len(files) == 0 {
		logrus.Info("No configuration profiles found.")
		logrus.Info("Run 'codelynx configure init' to create the default profile.")
		return nil
	}

	fmt.Println("Available configuration profiles:")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	for _, file := range files {
		fmt.Printf("  • %s\n", strings.TrimSuffix(filepath.Base(file), ".yaml"))
	}
	return nil
}

func runConfigureSet(cmd *cobra.Command, args []string) error {
	key := strings.TrimSpace(args[0])
	profile, _ := cmd.Flags().GetString("profile")

	cfg, cfgPath, err := loadConfigFile(profile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	val := parseValueForKey(key, args[1])
	setNested(cfg, strings.Split(key, "."), val)

	if err := checkProfile(cfg); err != nil {
		return err
	}
	if err := writeYAMLFile(cfgPath, cfg); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	logrus.Infof("Set %s = %v in profile %s", key, val, profile)
	return nil
}

func runConfigureGet(cmd *cobra.Command, args []string) error {
	key := strings.TrimSpace(args[0])
	profile, _ := cmd.Flags().GetString("profile")

	cfg, _, err := loadConfigFile(profile)
	if err != nil {
		return err
	}
	val, ok := getNested(cfg, strings.Split(key, "."))
	if !ok {
		fmt.Printf("%s = <unset>\n", key)
		return nil
	}
	fmt.Printf("%s = %v\n", key, val)
	return nil
}

func runConfigureValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		p, err := profilePath("config")
		if err != nil {
			return err
		}
		path = p
	}
	cfg := models.DefaultConfig()
	if err := cfg.Load(path); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", path)
	return nil
}

// checkProfile makes sure an edited profile still decodes into a valid
// Config before it is written back.
func checkProfile(raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	cfg := models.DefaultConfig()
	if err := yaml.Unmarshal(out, cfg); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return cfg.Validate()
}

func loadConfigFile(profile string) (map[string]interface{}, string, error) {
	configFile, err := profilePath(profile)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := map[string]interface{}{}
	if _, err := os.Stat(configFile); err == nil {
		b, rerr := os.ReadFile(configFile)
		if rerr != nil {
			return nil, "", fmt.Errorf("failed to read configuration: %w", rerr)
		}
		if uerr := yaml.Unmarshal(b, &cfg); uerr != nil {
			return nil, "", fmt.Errorf("failed to parse YAML: %w", uerr)
		}
	}
	return cfg, configFile, nil
}

func writeYAMLFile(path string, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func setNested(dst map[string]interface{}, keys []string, val interface{}) {
	if len(keys) == 0 {
		return
	}
	if len(keys) == 1 {
		dst[keys[0]] = val
		return
	}
	k := keys[0]
	child, ok := dst[k].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
	}
	setNested(child, keys[1:], val)
	dst[k] = child
}

func getNested(src map[string]interface{}, keys []string) (interface{}, bool) {
	var cur interface{} = src
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func parseValueForKey(key, s string) interface{} {
	trim := strings.TrimSpace(s)

	if strings.Contains(trim, ",") || strings.HasSuffix(key, "tools") || strings.HasSuffix(key, "roots") {
		parts := strings.Split(trim, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}

	if b, err := strconv.ParseBool(trim); err == nil {
		return b
	}

	if i, err := strconv.Atoi(trim); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(trim, 64); err == nil {
		return f
	}

	if containsAny(strings.ToLower(key), []string{"timeout", "delay", "retention", "ttl"}) {
		if d, err := time.ParseDuration(trim); err == nil {
			return d.String()
		}
	}
	return trim
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func confirmOverwrite() (bool, error) {
	fmt.Print("Configuration file already exists. Overwrite? (y/N): ")
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	resp = strings.TrimSpace(resp)
	return resp == "y" || resp == "Y", nil
}
