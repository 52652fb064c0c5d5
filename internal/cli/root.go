// Package cli implements the syncctl subcommands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"dashsync/internal/app"
	"dashsync/internal/config"
	"dashsync/internal/orchestrator"
	"dashsync/internal/output"
	"dashsync/internal/repository"
	"dashsync/internal/tenant"
)

// ErrPassFailed is returned by run when any entity failed, so main can
// exit non-zero.
var ErrPassFailed = errors.New("sync pass finished with failures")

type Context struct {
	Config config.Config
	Logger *zap.Logger
	Output output.Format
	Stdout io.Writer
	// New builds the app; tests swap it out.
	New func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)
}

func Usage(w io.Writer) {
	fmt.Fprint(w, `syncctl [global flags] <command> [flags]

Global Flags:
  --config      config file (env: DASHSYNC_CONFIG, default config/config.yaml)
  --env-only    skip the config file (env: DASHSYNC_ENV_ONLY)
  --output      json|text (default text)

Commands:
  run        one sync pass; exits 1 if any entity failed
  loop       sync passes every --interval until interrupted
  state      list sync cursors
  runs       list recorded entity runs
  authorize  print the Teamleader authorization link for a tenant
`)
}

func Dispatch(ctx context.Context, c Context, args []string) error {
	if len(args) == 0 {
		Usage(os.Stderr)
		return errors.New("missing command")
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.New == nil {
		c.New = app.New
	}
	switch args[0] {
	case "run":
		return runCmd(ctx, c, args[1:])
	case "loop":
		return loopCmd(ctx, c, args[1:])
	case "state":
		return stateCmd(ctx, c, args[1:])
	case "runs":
		return runsCmd(ctx, c, args[1:])
	case "authorize":
		return authorizeCmd(ctx, c, args[1:])
	case "help", "-h", "--help":
		Usage(c.Stdout)
		return nil
	default:
		Usage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

type passFlags struct {
	entities string
	tenants  string
	provider string
	full     bool
	failFast bool
	dryRun   bool
}

func (p *passFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&p.entities, "entities", "", "comma separated entities (default: all)")
	fs.StringVar(&p.tenants, "tenants", "", "comma separated tenant ids (default: all)")
	fs.StringVar(&p.provider, "provider", "", "ghl|teamleader")
	fs.BoolVar(&p.full, "full", false, "force a full pass")
	fs.BoolVar(&p.failFast, "fail-fast", false, "stop at the first failed entity")
	fs.BoolVar(&p.dryRun, "dry-run", false, "write records to an in-memory store")
}

func (p *passFlags) request(fs *flag.FlagSet) orchestrator.Request {
	req := orchestrator.Request{
		Entities: splitList(p.entities),
		FullSync: p.full,
		Tenants: tenant.Selector{
			IDs:      splitList(p.tenants),
			Provider: strings.ToLower(strings.TrimSpace(p.provider)),
		},
	}
	// Only an explicit flag overrides orchestrator.fail_fast.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "fail-fast" {
			v := p.failFast
			req.FailFast = &v
		}
	})
	return req
}

func runCmd(ctx context.Context, c Context, args []string) error {
	fs := flag.NewFlagSet("syncctl run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var pf passFlags
	pf.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := c.open(ctx, pf.dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.Orchestrator.Run(ctx, pf.request(fs))
	if err != nil {
		return err
	}
	if err := output.Write(c.Stdout, c.Output, sum); err != nil {
		return err
	}
	if sum.Failed() {
		return ErrPassFailed
	}
	return nil
}

func loopCmd(ctx context.Context, c Context, args []string) error {
	fs := flag.NewFlagSet("syncctl loop", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var pf passFlags
	pf.bind(fs)
	interval := fs.Duration("interval", 0, "pause between passes (default loop.interval)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	every := *interval
	if every <= 0 {
		every = c.Config.Loop.Interval
	}
	if every <= 0 {
		every = 15 * time.Minute
	}

	a, err := c.open(ctx, pf.dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	c.Logger.Info("sync loop starting", zap.Duration("interval", every))
	err = a.Orchestrator.Loop(ctx, pf.request(fs), every)
	if errors.Is(err, context.Canceled) {
		c.Logger.Info("sync loop stopped")
		return nil
	}
	return err
}

func stateCmd(ctx context.Context, c Context, args []string) error {
	fs := flag.NewFlagSet("syncctl state", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tenantID := fs.String("tenant", "", "tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	states, err := a.Store.ListSyncStates(ctx, strings.TrimSpace(*tenantID))
	if err != nil {
		return err
	}
	return output.Write(c.Stdout, c.Output, states)
}

func runsCmd(ctx context.Context, c Context, args []string) error {
	fs := flag.NewFlagSet("syncctl runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tenantID := fs.String("tenant", "", "tenant id")
	entity := fs.String("entity", "", "entity")
	status := fs.String("status", "", "ok|failed|skipped")
	limit := fs.Int("limit", 20, "limit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.Store.ListSyncRuns(ctx, repository.ListSyncRunsParams{
		TenantID: optional(*tenantID),
		Entity:   optional(*entity),
		Status:   optional(*status),
		Limit:    *limit,
	})
	if err != nil {
		return err
	}
	return output.Write(c.Stdout, c.Output, runs)
}

func authorizeCmd(ctx context.Context, c Context, args []string) error {
	fs := flag.NewFlagSet("syncctl authorize", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tenantID := fs.String("tenant", "", "tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tenantID) == "" {
		return errors.New("--tenant required")
	}
	a, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Tokens == nil {
		return errors.New("teamleader.client_id is not configured")
	}
	link, err := a.Tokens.AuthCodeURL(strings.TrimSpace(*tenantID))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.Stdout, link)
	return err
}

func (c Context) open(ctx context.Context, dryRun bool) (*app.App, error) {
	cfg := c.Config
	if dryRun {
		cfg.Sync.DryRun = true
	}
	return c.New(ctx, cfg, c.Logger)
}

func splitList(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(s, ",") {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
