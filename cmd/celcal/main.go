package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"celcal/internal/calendar"
	"celcal/internal/calendar/gcal"
	"celcal/internal/calendar/icsfile"
	"celcal/internal/celcat"
	"celcal/internal/config"
	appLog "celcal/internal/log"
	"celcal/internal/notify"
	"celcal/internal/scheduler"
	"celcal/internal/syncer"
	"celcal/internal/web"
)

const version = "1.0.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dryRun     bool
	search     string
	auth       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("celcal starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("celcal failed", err)
		os.Exit(1)
	}
	appLog.Info("celcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	if flags.auth {
		return gcal.Authorize(ctx, conf.Calendar.CredentialsPath, conf.Calendar.TokenPath, os.Stdin, os.Stdout)
	}

	if flags.search != "" {
		if conf.Server == "" {
			return errors.New("server is required to search groups")
		}
		client := celcat.NewClient(conf.Server, conf.ResourceType, celcat.WithRateLimit(conf.RateLimit))
		return searchGroups(ctx, client, flags.search)
	}

	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"server", conf.Server,
		"groups", conf.Groups,
		"timezone", conf.Timezone,
		"distance", conf.Distance.Duration(),
		"schedule", conf.CronSpec(),
		"lookahead", conf.Lookahead.Duration(),
		"backend", conf.Calendar.Backend,
		"webhook", conf.Webhook != "",
		"listen", conf.Listen,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	client := celcat.NewClient(conf.Server, conf.ResourceType, celcat.WithRateLimit(conf.RateLimit))

	dst, feed, err := buildDestination(ctx, conf, loc)
	if err != nil {
		return err
	}

	webhook := notify.NewWebhook(conf.Webhook)
	driver := syncer.NewDriver(syncer.Options{
		Groups:    conf.Groups,
		Location:  loc,
		Distance:  conf.Distance.Duration(),
		Lookahead: conf.Lookahead.Duration(),
		DryRun:    flags.dryRun,
	}, client, dst, webhook)
	sched := scheduler.New(conf.CronSpec(), loc, driver, webhook, scheduler.WithDryRun(flags.dryRun))

	if flags.once {
		res, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		for _, line := range res.Changes {
			fmt.Println(line)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	if conf.Listen != "" {
		srv := web.NewServer(web.Options{
			BasicAuth: conf.BasicAuth,
			Status:    sched,
			Groups:    client,
			Feed:      feed,
		})
		g.Go(func() error {
			return srv.Run(gctx, conf.Listen)
		})
	}
	return g.Wait()
}

// buildDestination returns the configured calendar, plus the ICS feed to
// expose over HTTP when the backend is a local file.
func buildDestination(ctx context.Context, conf *config.Config, loc *time.Location) (calendar.Destination, web.FeedSource, error) {
	switch conf.Calendar.Backend {
	case config.BackendICS:
		cal := icsfile.New(conf.Calendar.ICSPath, "Celcat", loc)
		return cal, cal, nil
	case config.BackendGoogle:
		svc, err := gcal.NewService(ctx, conf.Calendar.CredentialsPath, conf.Calendar.TokenPath)
		if err != nil {
			return nil, nil, fmt.Errorf("google calendar: %w", err)
		}
		return gcal.New(svc, conf.Calendar.CalendarID, loc, conf.RateLimit), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported calendar backend %q", conf.Calendar.Backend)
	}
}

func searchGroups(ctx context.Context, client *celcat.Client, query string) error {
	results, err := client.Search(ctx, query, 30)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("no group matches %q\n", query)
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEPARTMENT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Text, r.Dept)
	}
	return tw.Flush()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/celcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync cycle and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Compute and print changes without touching the calendar or sending webhooks")
	flag.StringVar(&cfg.search, "search", "", "Search Celcat groups by name and exit")
	flag.BoolVar(&cfg.auth, "auth", false, "Run the Google OAuth consent flow and cache the token")

	flag.Parse()

	return cfg
}
