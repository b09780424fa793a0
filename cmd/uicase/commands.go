package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/uicase/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// runResult covers both the 200 body and the 502 failure body.
type runResult struct {
	RunID      string `json:"run_id"`
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	ReportPath string `json:"report_path"`
	Error      string `json:"error"`
}

type batchFile struct {
	Cases []batchCase `yaml:"cases"`
}

type batchCase struct {
	Name              string `yaml:"name"`
	domain.RunRequest `yaml:",inline"`
}

func runCmd(newClient func() *client, ui *ui) *cobra.Command {
	var (
		criteria []string
		meta     []string
		model    string
		headed   bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:     "run <task>",
		Short:   "Run a single UI test case",
		Example: "uicase run \"Open the dashboard\" --criterion title_contains=Dashboard --meta ticket=QA-12",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(strings.Join(args, " "), criteria, meta, model, headed)
			if err != nil {
				return err
			}
			c := newClient()
			stop := startSpinner(ui, " Running case...")
			status, resp, err := c.request(cmd.Context(), http.MethodPost, "/v1/uicase/run-case", req)
			stop()
			if err != nil {
				return err
			}
			if asJSON {
				fmt.Println(string(resp))
			}
			res, err := decodeRun(status, resp)
			if err != nil {
				return err
			}
			if !asJSON {
				printRun(ui, "", res)
			}
			if !res.OK {
				return errors.New("case failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&criteria, "criterion", nil, "Success criterion type=value or type=[selector]value (repeatable)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().StringVar(&model, "model", "", "Agent model override")
	cmd.Flags().BoolVar(&headed, "headed", false, "Run the browser with a visible window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON response")
	return cmd
}

func batchCmd(newClient func() *client, ui *ui) *cobra.Command {
	var (
		file        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Run every case in a YAML file",
		Example: "uicase batch -f cases.yaml --concurrency 2",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return errors.New("file is required")
			}
			cases, err := loadBatch(file)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = 1
			}
			c := newClient()

			bar := progressbar.NewOptions(len(cases),
				progressbar.OptionSetDescription("Running cases"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionSetVisibility(ui.tty),
				progressbar.OptionClearOnFinish(),
			)

			results := make([]runResult, len(cases))
			errs := make([]error, len(cases))
			sem := make(chan struct{}, concurrency)
			var wg sync.WaitGroup
			for i, bc := range cases {
				wg.Add(1)
				sem <- struct{}{}
				go func(i int, bc batchCase) {
					defer wg.Done()
					defer func() { <-sem }()
					status, resp, err := c.request(cmd.Context(), http.MethodPost, "/v1/uicase/run-case", bc.RunRequest)
					if err == nil {
						results[i], err = decodeRun(status, resp)
					}
					errs[i] = err
					_ = bar.Add(1)
				}(i, bc)
			}
			wg.Wait()
			_ = bar.Finish()

			var passed, failed, errored int
			for i, bc := range cases {
				switch {
				case errs[i] != nil:
					errored++
					fmt.Printf("%s %s %s\n", ui.err("[ERROR]"), caseLabel(i, bc), errs[i])
				default:
					if results[i].OK {
						passed++
					} else {
						failed++
					}
					printRun(ui, caseLabel(i, bc), results[i])
				}
			}
			fmt.Printf("\n%s %d passed | %s %d failed | %s %d errored\n",
				ui.ok("PASSED"), passed, ui.warn("FAILED"), failed, ui.err("ERRORED"), errored)
			if failed+errored > 0 {
				return fmt.Errorf("%d of %d cases did not pass", failed+errored, len(cases))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a top-level cases list")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Cases to run in parallel")
	return cmd
}

func getCmd(newClient func() *client, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "get <runId>",
		Short: "Show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			stop := startSpinner(ui, " Fetching run...")
			status, resp, err := c.request(cmd.Context(), http.MethodGet, "/v1/uicase/runs/"+url.PathEscape(args[0]), nil)
			stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var rec domain.RunRecord
			if err := json.Unmarshal(resp, &rec); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			printRecord(ui, rec)
			return nil
		},
	}
}

func listCmd(newClient func() *client, ui *ui) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			stop := startSpinner(ui, " Fetching runs...")
			status, resp, err := c.request(cmd.Context(), http.MethodGet, "/v1/uicase/runs?limit="+strconv.Itoa(limit), nil)
			stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Runs []domain.RunRecord `json:"runs"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			for _, rec := range out.Runs {
				fmt.Printf("%s %s %s %s\n", verdictTag(ui, rec.OK), rec.ID, ui.dim(rec.FinishedAt.Format(time.RFC3339)), truncate(rec.Task, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show (1-200)")
	return cmd
}

func healthCmd(newClient func() *client, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := newClient().request(cmd.Context(), http.MethodGet, "/healthz", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s %s\n", ui.ok("[OK]"), string(resp))
			return nil
		},
	}
}

func buildRequest(task string, criteria, meta []string, model string, headed bool) (domain.RunRequest, error) {
	req := domain.RunRequest{Task: strings.TrimSpace(task), Model: strings.TrimSpace(model)}
	for _, s := range criteria {
		c, err := domain.ParseCriterion(s)
		if err != nil {
			return req, err
		}
		req.SuccessCriteria = append(req.SuccessCriteria, c)
	}
	if len(meta) > 0 {
		m, err := parseMeta(meta)
		if err != nil {
			return req, err
		}
		req.Metadata = m
	}
	if headed {
		headless := false
		req.Headless = &headless
	}
	return req, req.Validate()
}

func parseMeta(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("meta %q: expected key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func loadBatch(path string) ([]batchCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(bf.Cases) == 0 {
		return nil, fmt.Errorf("%s: no cases", path)
	}
	for i, bc := range bf.Cases {
		if err := bc.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, caseLabel(i, bc), err)
		}
	}
	return bf.Cases, nil
}

// decodeRun accepts 200 and the 502 body, which still carries a run id and report.
func decodeRun(status int, body []byte) (runResult, error) {
	var res runResult
	if status != http.StatusOK && status != http.StatusBadGateway {
		return res, fmt.Errorf("error (%d): %s", status, string(body))
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return res, fmt.Errorf("decode response: %w", err)
	}
	if status == http.StatusBadGateway {
		res.OK = false
		res.Message = firstNonEmpty(res.Error, domain.MessageFailed)
	}
	return res, nil
}

func startSpinner(ui *ui, suffix string) func() {
	if !ui.tty {
		return func() {}
	}
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = suffix
	spin.Start()
	return spin.Stop
}

func printRun(ui *ui, label string, res runResult) {
	if label != "" {
		label += " "
	}
	fmt.Printf("%s %s%s %s\n", verdictTag(ui, res.OK), label, res.Message, ui.dim(res.RunID))
	if res.ReportPath != "" {
		fmt.Printf("  %s %s\n", ui.info("report:"), res.ReportPath)
	}
}

func printRecord(ui *ui, rec domain.RunRecord) {
	fmt.Printf("%s %s\n", verdictTag(ui, rec.OK), rec.ID)
	fmt.Printf("  %s %s\n", ui.info("task:"), rec.Task)
	for _, c := range rec.Criteria {
		fmt.Printf("  %s\n", c.Line())
	}
	fmt.Printf("  %s %s\n", ui.info("transport:"), rec.Transport)
	fmt.Printf("  %s %s\n", ui.info("report:"), rec.ReportPath)
	for _, s := range rec.Screenshots {
		fmt.Printf("  %s %s\n", ui.info("screenshot:"), s)
	}
	if rec.Error != "" {
		fmt.Printf("  %s %s\n", ui.err("error:"), rec.Error)
	}
	fmt.Printf("  %s\n", ui.dim(rec.StartedAt.Format(time.RFC3339)+" -> "+rec.FinishedAt.Format(time.RFC3339)))
}

func verdictTag(ui *ui, ok bool) string {
	if ok {
		return ui.ok("[PASS]")
	}
	return ui.err("[FAIL]")
}

func caseLabel(i int, bc batchCase) string {
	if bc.Name != "" {
		return bc.Name
	}
	return "case " + strconv.Itoa(i+1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
