package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Nudger configuration",
	Long:  `View and manage Nudger configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current Nudger configuration.`,
	Example: `  # Show configuration as YAML (default)
  nudger config show

  # Show configuration as JSON
  nudger config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value by its dotted key. VALUE is read as YAML, so
numbers, booleans, durations and lists work as written. The whole
configuration is validated before it is saved.`,
	Example: `  # Set the control API port
  nudger config set server.port 9090

  # Poll every 30 seconds
  nudger config set monitor.interval 30s

  # Replace the target keywords
  nudger config set windows.target_keywords "[Trae, Cursor]"`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a configuration value by its dotted key.`,
	Example: `  # Get the control API port
  nudger config get server.port

  # Get the threshold floor
  nudger config get detection.threshold.min`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Validate a configuration file",
	Long: `Check a configuration file without applying it. Every problem is listed.
Without FILE the active configuration file is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigValidate,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys",
	RunE:  runConfigKeys,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configKeysCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	if err := configMgr.SetKey(key, value); err != nil {
		return describeConfigError(err)
	}

	fmt.Printf("✅ Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	value, err := configMgr.GetKey(args[0])
	if err != nil {
		return err
	}

	switch v := value.(type) {
	case map[string]any, []any:
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(v)
	default:
		fmt.Println(v)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	if path := GetConfigFile(); path != "" {
		fmt.Println(path)
		return nil
	}
	path, err := config.DefaultPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if _, err := config.Parse(data); err != nil {
		return describeConfigError(err)
	}

	fmt.Printf("✅ %s is valid\n", path)
	return nil
}

func runConfigKeys(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	keys, err := configMgr.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

// describeConfigError prints each validation problem on its own line.
func describeConfigError(err error) error {
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	fmt.Fprintln(os.Stderr, "Configuration is invalid:")
	for _, p := range verr.Problems {
		fmt.Fprintf(os.Stderr, "  • %s\n", p)
	}
	return fmt.Errorf("%d configuration problem(s)", len(verr.Problems))
}
