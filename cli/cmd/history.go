package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"switchyard/cli/style"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "List recent deployment attempts, newest first",
	Aliases: []string{"log"},
	Args:    cobra.NoArgs,
	RunE:    runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	attempts, err := client.History(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	if len(attempts) == 0 {
		fmt.Println(style.DimText.Render("No deployments recorded yet."))
		return nil
	}

	header := fmt.Sprintf("  %-20s %-16s %-8s %-22s %-8s %s", "STARTED", "VERSION", "SLOTS", "OUTCOME", "TOOK", "REASON")
	fmt.Println(style.TableHeader.Render(header))
	for _, a := range attempts {
		fmt.Printf("  %-20s %-16s %s->%s    %s %-8s %s\n",
			a.StartedAt.Local().Format(time.DateTime),
			a.Version,
			style.Slot(a.FromSlot), style.Slot(a.TargetSlot),
			style.Outcome(padRight(a.Outcome, 22)),
			a.Duration().Round(time.Second),
			style.DimText.Render(a.Reason))
	}
	return nil
}
