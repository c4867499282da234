package commands

import (
	"fmt"
	"regexp"

	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/spf13/cobra"
)

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Manage window title rules",
	Long: `Add or remove the title rules used to classify windows.

Kinds:
  target       keyword that marks the assistant window (matched per title segment)
  separator    string that splits a title into segments
  regex        regular expression that marks the assistant window
  exclude      keyword that rules a window out as the target
  interfering  keyword for windows that are moved out of the way`,
}

var patternAddCmd = &cobra.Command{
	Use:   "add PATTERN",
	Short: "Add a title rule",
	Example: `  # Treat Cursor as a target
  nudger pattern add Cursor

  # Match the assistant by regex
  nudger pattern add --kind regex "(?i)^.* - trae$"

  # Move Slack out of the way while acting
  nudger pattern add --kind interfering Slack`,
	Args: cobra.ExactArgs(1),
	RunE: runPatternAdd,
}

var patternRemoveCmd = &cobra.Command{
	Use:   "remove PATTERN",
	Short: "Remove a title rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatternRemove,
}

var patternListCmd = &cobra.Command{
	Use:   "list",
	Short: "List title rules",
	Long:  `Display the title rules. Without --kind every list is shown.`,
	RunE:  runPatternList,
}

func init() {
	rootCmd.AddCommand(patternCmd)
	patternCmd.AddCommand(patternAddCmd)
	patternCmd.AddCommand(patternRemoveCmd)
	patternCmd.AddCommand(patternListCmd)

	patternAddCmd.Flags().StringP("kind", "k", string(config.PatternTarget), "rule kind")
	patternRemoveCmd.Flags().StringP("kind", "k", string(config.PatternTarget), "rule kind")
	patternListCmd.Flags().StringP("kind", "k", "", "rule kind (default all)")
}

func runPatternAdd(cmd *cobra.Command, args []string) error {
	pattern := args[0]

	flag, _ := cmd.Flags().GetString("kind")
	kind, err := config.ParsePatternKind(flag)
	if err != nil {
		return err
	}

	// Validate regex
	if kind == config.PatternRegex {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	if err := configMgr.AddPattern(kind, pattern); err != nil {
		return fmt.Errorf("failed to add pattern: %w", err)
	}

	fmt.Printf("✅ Added %s pattern: %s\n", kind, pattern)
	return nil
}

func runPatternRemove(cmd *cobra.Command, args []string) error {
	pattern := args[0]

	flag, _ := cmd.Flags().GetString("kind")
	kind, err := config.ParsePatternKind(flag)
	if err != nil {
		return err
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	if err := configMgr.RemovePattern(kind, pattern); err != nil {
		return fmt.Errorf("failed to remove pattern: %w", err)
	}

	fmt.Printf("✅ Removed %s pattern: %s\n", kind, pattern)
	return nil
}

func runPatternList(cmd *cobra.Command, args []string) error {
	kinds := config.PatternKinds
	if flag, _ := cmd.Flags().GetString("kind"); flag != "" {
		kind, err := config.ParsePatternKind(flag)
		if err != nil {
			return err
		}
		kinds = []config.PatternKind{kind}
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	for _, kind := range kinds {
		patterns := configMgr.Patterns(kind)
		fmt.Printf("%s:\n", kind)
		if len(patterns) == 0 {
			fmt.Println("  (none)")
			continue
		}
		for i, pattern := range patterns {
			fmt.Printf("  %d. %q\n", i+1, pattern)
		}
	}

	return nil
}
