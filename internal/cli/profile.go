package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/profile"
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage compliance profiles",
	Long:  "List, inspect and scaffold compliance profiles.",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available compliance profiles",
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name|path>",
	Short: "Show the scope rules of a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

func runProfileList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	names := profile.List()
	if len(names) == 0 {
		fmt.Fprintln(out, "No profiles available.")
		return nil
	}

	fmt.Fprintln(out, "Available profiles:")
	for _, name := range names {
		p, err := profile.Load(name)
		if err != nil {
			fmt.Fprintf(out, "  %-15s (error loading: %v)\n", name, err)
			continue
		}
		fmt.Fprintf(out, "  %-15s %s\n", name, p.Description)
	}
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	p, err := profile.Resolve(args[0])
	if err != nil {
		return fmt.Errorf("failed to load profile %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile: %s (%s)\n", p.DisplayName(), p.ID)
	if p.Description != "" {
		fmt.Fprintf(out, "  %s\n", p.Description)
	}
	if len(p.IncludeTags) > 0 {
		fmt.Fprintf(out, "Include tags: %v\n", p.IncludeTags)
	}
	if len(p.Severities) > 0 {
		fmt.Fprintf(out, "Severities:   %v\n", p.Severities)
	}
	if len(p.OutOfScope) > 0 {
		fmt.Fprintln(out, "Out of scope:")
		for _, r := range p.OutOfScope {
			match := r.Tag
			switch {
			case r.RuleID != "":
				match = "rule " + r.RuleID
			case r.VulnID != "":
				match = "vuln " + r.VulnID
			default:
				match = "tag " + match
			}
			fmt.Fprintf(out, "  - %-20s %s\n", match, r.Reason)
		}
	}
	return nil
}
