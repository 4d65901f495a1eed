package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"switchyard/cli/style"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the active slot and both slot records",
	Aliases: []string{"s"},
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	fmt.Println(style.Banner.Render("⇄ "+st.App) + style.Subtitle.Render("  active "+st.ActiveSlot))

	fmt.Printf("  %s %s\n", style.Key.Render("Active"), style.Slot(st.ActiveSlot))
	fmt.Printf("  %s %s\n", style.Key.Render("State"), style.Val.Render(st.State))
	if st.RouterAddress != "" {
		fmt.Printf("  %s %s\n", style.Key.Render("Router"), style.Val.Render(st.RouterAddress))
	}
	if st.Current != nil {
		fmt.Printf("  %s %s -> %s\n", style.Key.Render("Deploying"), st.Current.Version, style.Slot(st.Current.TargetSlot))
	}
	fmt.Println()

	header := fmt.Sprintf("  %-2s  %-6s %-24s %-16s %s", "", "SLOT", "ADDRESS", "VERSION", "LAST HEALTHY")
	fmt.Println(style.TableHeader.Render(header))
	for _, s := range st.Slots {
		healthy := style.DimText.Render("never")
		if s.LastKnownHealthy != nil {
			healthy = s.LastKnownHealthy.Local().Format(time.DateTime)
		}
		version := s.LastDeployedVersion
		if version == "" {
			version = "—"
		}
		marker := " "
		if s.ID == st.ActiveSlot {
			marker = "*"
		}
		fmt.Printf("  %s%s  %s %-24s %-16s %s\n",
			style.HealthDot(s.LastKnownHealthy != nil), marker,
			style.Slot(padRight(s.ID, 6)), s.Address, version, healthy)
	}
	fmt.Println()

	if a := st.LastAttempt; a != nil {
		fmt.Printf("  %s %s %s -> %s  %s\n", style.Key.Render("Last deploy"),
			a.Version, a.FromSlot, a.TargetSlot, style.Outcome(a.Outcome))
		if a.Reason != "" && a.Outcome != "success" {
			fmt.Println(style.DimText.Render("  " + a.Reason))
		}
	}
	for _, w := range st.Warnings {
		fmt.Println(style.Warning.Render("  warning: " + w))
	}
	return nil
}
