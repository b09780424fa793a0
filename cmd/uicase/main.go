// Command uicase submits natural-language UI test cases to a uicase server
// and reads back their verdicts and reports.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// client talks to the uicase HTTP API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) request(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

// ui holds the color printers; all of them are plain when stdout is piped.
type ui struct {
	title, ok, info, warn, err, dim func(a ...any) string
	tty                             bool
}

func newUI() *ui {
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	color.NoColor = color.NoColor || !tty
	sprint := func(attrs ...color.Attribute) func(a ...any) string { return color.New(attrs...).SprintFunc() }
	return &ui{
		title: sprint(color.FgHiCyan, color.Bold),
		ok:    sprint(color.FgGreen, color.Bold),
		info:  sprint(color.FgCyan),
		warn:  sprint(color.FgYellow),
		err:   sprint(color.FgRed, color.Bold),
		dim:   sprint(color.FgHiBlack),
		tty:   tty,
	}
}

// connection is resolved per invocation: flag, then env, then profile.
type connection struct {
	baseURL string
	token   string
	profile string
	timeout time.Duration
}

func (cn *connection) resolve(flags interface{ Changed(string) bool }) {
	store, err := openStore()
	if err != nil {
		store = &profileStore{Profiles: map[string]profile{}}
	}
	cn.profile = store.activeName(cn.profile)
	p := store.Profiles[cn.profile]
	if !flags.Changed("base-url") {
		cn.baseURL = firstNonEmpty(os.Getenv("UICASE_BASE_URL"), p.BaseURL, "http://localhost:8000")
	}
	if !flags.Changed("token") {
		cn.token = firstNonEmpty(os.Getenv("UICASE_TOKEN"), p.Token)
	}
}

func (cn *connection) client() *client {
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(cn.baseURL), "/"),
		token:   strings.TrimSpace(cn.token),
		http:    &http.Client{Timeout: cn.timeout},
	}
}

func main() {
	ui := newUI()
	conn := &connection{timeout: 5 * time.Minute}

	root := &cobra.Command{
		Use:          "uicase",
		Short:        "uicase CLI",
		Long:         "Run natural-language UI test cases against a uicase server.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			conn.resolve(cmd.Flags())
		},
	}
	root.SetHelpTemplate(helpTemplate(ui))

	pf := root.PersistentFlags()
	pf.StringVar(&conn.baseURL, "base-url", "", "uicase server URL (env UICASE_BASE_URL)")
	pf.StringVar(&conn.token, "token", "", "bearer token (env UICASE_TOKEN)")
	pf.StringVar(&conn.profile, "profile", "", "saved profile (env UICASE_PROFILE)")
	pf.DurationVar(&conn.timeout, "timeout", conn.timeout, "per-request timeout; runs drive a real browser and can take minutes")

	root.AddCommand(
		initCmd(&conn.profile, ui),
		profileCmd(ui),
		runCmd(conn.client, ui),
		batchCmd(conn.client, ui),
		getCmd(conn.client, ui),
		listCmd(conn.client, ui),
		healthCmd(conn.client, ui),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err)
		os.Exit(1)
	}
}

func helpTemplate(ui *ui) string {
	return fmt.Sprintf(`%s: natural-language UI test runner

Usage:
  {{.UseLine}}
{{if .HasAvailableSubCommands}}
Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}
{{end}}
Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
{{if .HasAvailableInheritedFlags}}
Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}
Profiles: %s

Examples:
  uicase init --base-url http://localhost:8000
  uicase run "Log in as demo and open settings" --criterion url_contains=/settings
  uicase run "Open the shop" --criterion 'text_exists=[h1.title]Welcome' --headed
  uicase batch -f cases.yaml --concurrency 4
  uicase get <runId>

`, ui.title("uicase"), storePath())
}
