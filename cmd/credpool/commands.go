package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BaSui01/credpool/credential"
)

// =============================================================================
// 🔧 一次性命令
// =============================================================================

// cliFlags health/stats/reset 共用参数
type cliFlags struct {
	configPath string
	service    string
	asJSON     bool
}

func parseCLIFlags(name string, args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.service, "service", "", "Service name")
	fs.BoolVar(&f.asJSON, "json", false, "Print JSON output")
	err := fs.Parse(args)
	return f, err
}

// openCLIApp 加载配置并装配不带指标的凭据池
func openCLIApp(ctx context.Context, f cliFlags, stderr io.Writer) (*app, bool) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	logger := initLogger(cliLogConfig(cfg.Log))

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open credential pool: %v\n", err)
		_ = logger.Sync()
		return nil, false
	}
	return a, true
}

func (a *app) shutdown(ctx context.Context, stderr io.Writer) int {
	code := 0
	if err := a.close(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to close credential pool: %v\n", err)
		code = 1
	}
	_ = a.logger.Sync()
	return code
}

// =============================================================================
// 🏥 health
// =============================================================================

func runHealth(args []string, stdout, stderr io.Writer) int {
	f, err := parseCLIFlags("health", args, stderr)
	if err != nil {
		return 2
	}
	ctx := context.Background()
	a, ok := openCLIApp(ctx, f, stderr)
	if !ok {
		return 1
	}

	var reports []credential.HealthReport
	if f.service != "" {
		r, err := a.pool.Health(f.service)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			a.shutdown(ctx, stderr)
			return 1
		}
		reports = []credential.HealthReport{r}
	} else {
		reports = a.pool.HealthAll()
	}

	if f.asJSON {
		err = writeJSON(stdout, reports)
	} else {
		err = writeHealth(stdout, reports)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to write output: %v\n", err)
	}

	code := a.shutdown(ctx, stderr)
	if !anyHealthy(reports) {
		return 1
	}
	return code
}

func anyHealthy(reports []credential.HealthReport) bool {
	for _, r := range reports {
		if r.Healthy() {
			return true
		}
	}
	return false
}

func writeHealth(w io.Writer, reports []credential.HealthReport) error {
	var b strings.Builder
	for _, r := range reports {
		status := "OK"
		if !r.Healthy() {
			status = "UNAVAILABLE"
		}
		fmt.Fprintf(&b, "%s [%s]\n", r.Service, status)
		fmt.Fprintf(&b, "  total: %d  active: %d  waiting: %d  blocked: %d\n",
			r.Total, r.Active, r.Waiting, r.Blocked)
		for _, d := range r.WaitingDetails {
			fmt.Fprintf(&b, "  waiting  %s until %s (%s)\n",
				d.KeyHash, d.ReleaseAt.Format(time.RFC3339), d.Reason)
		}
		for _, h := range r.BlockedHashes {
			fmt.Fprintf(&b, "  blocked  %s\n", h)
		}
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  -> %s\n", rec)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// =============================================================================
// 📊 stats
// =============================================================================

func runStats(args []string, stdout, stderr io.Writer) int {
	f, err := parseCLIFlags("stats", args, stderr)
	if err != nil {
		return 2
	}
	ctx := context.Background()
	a, ok := openCLIApp(ctx, f, stderr)
	if !ok {
		return 1
	}

	services := a.keys.Services()
	if f.service != "" {
		services = []string{f.service}
	}

	all := make([]credential.UsageStats, 0, len(services))
	for _, s := range services {
		st, err := a.pool.Stats(s)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			a.shutdown(ctx, stderr)
			return 1
		}
		all = append(all, st)
	}

	if f.asJSON {
		err = writeJSON(stdout, all)
	} else {
		err = writeStats(stdout, all)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to write output: %v\n", err)
		a.shutdown(ctx, stderr)
		return 1
	}
	return a.shutdown(ctx, stderr)
}

func writeStats(w io.Writer, all []credential.UsageStats) error {
	for _, st := range all {
		quota := "unlimited"
		if st.QuotaLimit > 0 {
			quota = fmt.Sprintf("%d/%s", st.QuotaLimit, st.QuotaWindow)
		}
		fmt.Fprintf(w, "%s  quota: %s  total usage: %d  total errors: %d\n",
			st.Service, quota, st.TotalUsage, st.TotalErrors)
		if len(st.Keys) == 0 {
			fmt.Fprintln(w, "  (no keys configured)")
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  KEY\tSTATE\tUSAGE\tDAILY\tMONTHLY\tREMAINING\tERRORS\tLAST USED\tLAST ERROR")
		for _, k := range st.Keys {
			remaining := "-"
			if k.Remaining != nil {
				remaining = fmt.Sprint(*k.Remaining)
			}
			lastUsed := k.LastUsedDate
			if lastUsed == "" {
				lastUsed = "-"
			}
			lastErr := "-"
			if k.LastError != nil {
				lastErr = k.LastError.Message
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%s\t%d\t%s\t%s\n",
				k.KeyHash, k.State, k.Usage, k.DailyUsage, k.MonthlyUsage,
				remaining, k.Errors, lastUsed, lastErr)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 🔄 reset
// =============================================================================

func runReset(args []string, stdout, stderr io.Writer) int {
	f, err := parseCLIFlags("reset", args, stderr)
	if err != nil {
		return 2
	}
	if f.service == "" {
		fmt.Fprintln(stderr, "reset requires --service")
		return 2
	}
	ctx := context.Background()
	a, ok := openCLIApp(ctx, f, stderr)
	if !ok {
		return 1
	}

	if err := a.pool.ResetUsage(ctx, f.service); err != nil {
		fmt.Fprintf(stderr, "Failed to reset %s: %v\n", f.service, err)
		a.shutdown(ctx, stderr)
		return 1
	}
	a.logger.Info("usage reset from cli", zap.String("service", f.service))
	fmt.Fprintf(stdout, "usage counters reset for %s\n", f.service)
	return a.shutdown(ctx, stderr)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
