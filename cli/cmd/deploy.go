package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"switchyard/cli/api"
	"switchyard/cli/style"
)

var (
	deployPlain   bool
	deployTimeout time.Duration
)

var deployCmd = &cobra.Command{
	Use:   "deploy <version>",
	Short: "Deploy a version to the idle slot and switch traffic to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployPlain, "plain", false, "print progress lines instead of the interactive view")
	deployCmd.Flags().DurationVar(&deployTimeout, "timeout", 30*time.Minute, "how long to wait for the API to finish the deploy")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	version := args[0]

	if deployPlain || !isTerminal() {
		res, err := client.Deploy(version, deployTimeout)
		printResult(res)
		return deployError(res, err)
	}

	m := newDeployModel(version)
	p := tea.NewProgram(m)
	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	dm := finalModel.(deployModel)
	if dm.err == nil && dm.result == nil {
		return &ExitError{Code: ExitOtherFailure, Err: errors.New("deploy interrupted; it keeps running on the server")}
	}
	return deployError(dm.result, dm.err)
}

// deployError maps a deploy response to an exit code.
func deployError(res *api.DeployResult, err error) error {
	if res != nil {
		switch res.Attempt.Outcome {
		case "success":
			return nil
		case "health_check_failed":
			return &ExitError{Code: ExitHealthCheck, Err: fmt.Errorf("health check failed: %s", res.Attempt.Reason)}
		case "provision_failed":
			return &ExitError{Code: ExitProvision, Err: fmt.Errorf("provision failed: %s", res.Attempt.Reason)}
		case "router_apply_failed":
			return &ExitError{Code: ExitRouterApply, Err: fmt.Errorf("router apply failed: %s", res.Attempt.Reason)}
		default:
			return &ExitError{Code: ExitOtherFailure, Err: fmt.Errorf("deploy %s: %s", res.Attempt.Outcome, res.Attempt.Reason)}
		}
	}
	var herr *api.HTTPError
	if errors.As(err, &herr) && herr.Code == http.StatusConflict {
		return &ExitError{Code: ExitInProgress, Err: errors.New("another deployment is in progress")}
	}
	if err == nil {
		err = errors.New("empty deploy response")
	}
	return &ExitError{Code: ExitOtherFailure, Err: err}
}

func printResult(res *api.DeployResult) {
	if res == nil {
		return
	}
	a := res.Attempt
	fmt.Printf("%s %s -> %s  %s  (%s)\n",
		a.Version, style.Slot(a.FromSlot), style.Slot(a.TargetSlot),
		style.Outcome(a.Outcome), a.Duration().Round(time.Millisecond))
	if a.Reason != "" && a.Outcome != "success" {
		fmt.Println("  " + a.Reason)
	}
	for _, w := range res.Warnings {
		fmt.Println(style.Warning.Render("  warning: " + w))
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// --- Messages ---

type wsMsg struct {
	Type    string                 `json:"type"`
	App     string                 `json:"app"`
	Payload map[string]interface{} `json:"payload"`
}

type stateUpdate struct{ to string }
type probeUpdate struct {
	attempt int
	ok      bool
	err     string
}
type deployDone struct {
	result *api.DeployResult
	err    error
}
type deployStarted struct{ ch chan tea.Msg }

// --- Model ---

type deployModel struct {
	version   string
	spinner   spinner.Model
	state     string
	probes    []probeUpdate
	status    string // "connecting" | "deploying" | "done"
	result    *api.DeployResult
	err       error
	startTime time.Time
	eventCh   chan tea.Msg
}

var deploySteps = []string{"provisioning", "health_checking", "switching"}

func newDeployModel(version string) deployModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Primary)

	return deployModel{
		version:   version,
		spinner:   s,
		state:     "idle",
		status:    "connecting",
		startTime: time.Now(),
	}
}

func (m deployModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		connectAndDeploy(m.version),
	)
}

func (m deployModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case deployStarted:
		m.status = "deploying"
		m.eventCh = msg.ch
		return m, waitForEvent(m.eventCh)

	case stateUpdate:
		m.state = msg.to
		return m, waitForEvent(m.eventCh)

	case probeUpdate:
		m.probes = append(m.probes, msg)
		return m, waitForEvent(m.eventCh)

	case deployDone:
		m.status = "done"
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m deployModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("⇄ SWITCHYARD DEPLOY"))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("Version"))
	b.WriteString(lipgloss.NewStyle().Foreground(style.Cyan).Render(m.version))
	b.WriteString("\n\n")

	reached := stepIndex(m.state)
	for i, step := range deploySteps {
		name := padRight(step, 16)
		switch {
		case m.state == "aborting" && i == reached:
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepFailed.Render(name), style.StepFailed.Render("✗ aborting")))
		case i < reached || (m.status == "done" && m.succeeded()):
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepDone.Render(name), style.StepDone.Render("✓ done")))
		case i == reached && m.status != "done":
			b.WriteString(fmt.Sprintf("  %s %s %s\n", style.StepRunning.Render(name), m.spinner.View(), style.StepRunning.Render("running")))
		default:
			b.WriteString(fmt.Sprintf("  %s %s\n", style.DimText.Render(name), style.DimText.Render("waiting")))
		}
	}

	if n := len(m.probes); n > 0 {
		last := m.probes[n-1]
		line := fmt.Sprintf("  probe #%d ok", last.attempt)
		if !last.ok {
			line = fmt.Sprintf("  probe #%d: %s", last.attempt, last.err)
		}
		b.WriteString(style.DimText.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	elapsed := time.Since(m.startTime).Round(time.Second)

	switch m.status {
	case "connecting":
		b.WriteString(m.spinner.View() + style.DimText.Render(" Connecting to API..."))
	case "deploying":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Deploy running... (%s)", elapsed)))
	case "done":
		if m.succeeded() {
			a := m.result.Attempt
			b.WriteString(style.SuccessBox.Render(fmt.Sprintf("✓ Traffic on slot %s (%s) after %s", a.TargetSlot, a.Version, elapsed)))
		} else {
			b.WriteString(style.ErrorBox.Render("✗ " + deployError(m.result, m.err).Error()))
		}
	}

	b.WriteString("\n")
	return b.String()
}

func (m deployModel) succeeded() bool {
	return m.result != nil && m.result.Attempt.Outcome == "success"
}

func stepIndex(state string) int {
	for i, s := range deploySteps {
		if s == state {
			return i
		}
	}
	return -1
}

// --- Commands ---

// connectAndDeploy opens the event stream before posting the deploy so no
// state change is missed. The POST blocks until the attempt finishes.
func connectAndDeploy(version string) tea.Cmd {
	return func() tea.Msg {
		ch := make(chan tea.Msg, 32)

		conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(), client.Header())
		if err == nil {
			go readEvents(conn, ch)
		}

		go func() {
			res, err := client.Deploy(version, deployTimeout)
			if conn != nil {
				conn.Close()
			}
			ch <- deployDone{result: res, err: err}
		}()

		return deployStarted{ch: ch}
	}
}

func readEvents(conn *websocket.Conn, ch chan<- tea.Msg) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event wsMsg
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		switch event.Type {
		case "deploy.state":
			to, _ := event.Payload["to"].(string)
			ch <- stateUpdate{to: to}
		case "probe.attempt":
			n, _ := event.Payload["attempt"].(float64)
			ok, _ := event.Payload["ok"].(bool)
			errStr, _ := event.Payload["error"].(string)
			ch <- probeUpdate{attempt: int(n), ok: ok, err: errStr}
		}
	}
}

// waitForEvent reads the next event from the channel.
func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}
