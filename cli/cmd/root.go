package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"switchyard/cli/api"
	"switchyard/cli/style"
)

// Exit codes reported by switchyard commands.
const (
	ExitOK           = 0
	ExitHealthCheck  = 1
	ExitProvision    = 2
	ExitRouterApply  = 3
	ExitInProgress   = 4
	ExitOtherFailure = 5
)

var (
	apiURL   string
	apiToken string
	client   *api.Client
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Blue-green traffic switching for a single app",
	Long: `Switchyard keeps two slots of an app, blue (A) and green (B), and moves
traffic between them only after the idle slot proves healthy.

Deploy a version, inspect the active slot, and read the audit history.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(os.Stderr, style.Unhealthy.Render("error: ")+err.Error())
	return exitCode(err)
}

func exitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitOtherFailure
}

func init() {
	defaultURL := os.Getenv("SWITCHYARD_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8900"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Switchyard API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SWITCHYARD_TOKEN"), "API bearer token")
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + fmt.Sprintf("%*s", n-len(s), "")
}
