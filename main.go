package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/api/admin"
	"github.com/Ahmed-Sermani/fscrawler/config"
	"github.com/Ahmed-Sermani/fscrawler/crawler"
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/service"
	adminsvc "github.com/Ahmed-Sermani/fscrawler/service/admin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	appName = "fscrawler"
	appSha  = ""
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	logger := rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := newRootCmd(rootLogger, logger).Execute(); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath string
	logLevel   string
	adminAddr  string
}

func newRootCmd(rootLogger *logrus.Logger, logger *logrus.Entry) *cobra.Command {
	opts := new(cliOptions)
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Keep a search index in sync with a directory tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "The YAML job file to load")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newRunCmd(opts, rootLogger, logger),
		newCrawlCmd(opts, rootLogger, logger),
		newTriggerCmd(opts, rootLogger),
		newStatusCmd(opts, rootLogger),
		newSearchCmd(opts, rootLogger, logger),
	)
	return cmd
}

// loadConfig reads the job file and configures the logger from it.
func loadConfig(opts *cliOptions, rootLogger *logrus.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	} else {
		cfg = new(config.Config)
		cfg.SetDefaults()
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := setupLogger(rootLogger, cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(l *logrus.Logger, cfg config.Log) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return xerrors.Errorf("log level: %w", err)
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(new(logrus.JSONFormatter))
	}
	return nil
}

func newRunCmd(opts *cliOptions, rootLogger *logrus.Logger, logger *logrus.Entry) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl every configured job on its schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, rootLogger)
			if err != nil {
				return err
			}
			if len(cfg.Jobs) == 0 {
				return xerrors.New("no jobs configured")
			}

			b, err := openBackends(cfg, logger)
			if err != nil {
				return err
			}
			defer b.close(logger)

			svcGroup, err := setupServices(cfg, b, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer cancel()
			return svcGroup.Run(ctx)
		},
	}
}

func setupServices(cfg *config.Config, b *backends, logger *logrus.Entry) (service.ServiceGroup, error) {
	var (
		svcGroup service.ServiceGroup
		jobs     []admin.Job
	)
	for _, jobCfg := range cfg.Jobs {
		svc, err := newJobService(jobCfg, b, logger)
		if err != nil {
			return nil, err
		}
		// Crawl once at startup instead of waiting for the first interval.
		svc.TriggerCycle()
		svcGroup = append(svcGroup, svc)
		jobs = append(jobs, svc)
	}

	if cfg.Admin.Listen != "" {
		svc, err := adminsvc.NewService(adminsvc.Config{
			ListenAddr: cfg.Admin.Listen,
			Jobs:       jobs,
			Logger:     logger.WithField("service", "admin"),
		})
		if err != nil {
			return nil, err
		}
		svcGroup = append(svcGroup, svc)
	}
	return svcGroup, nil
}

func newCrawlCmd(opts *cliOptions, rootLogger *logrus.Logger, logger *logrus.Entry) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "crawl [job...]",
		Short: "Run a single crawl cycle for the given jobs (all jobs by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, rootLogger)
			if err != nil {
				return err
			}
			if root != "" {
				job := config.Job{Root: root}
				job.SetDefaults()
				cfg.Jobs = append(cfg.Jobs, job)
				args = append(args, job.Name)
			}
			jobs, err := selectJobs(cfg, args)
			if err != nil {
				return err
			}

			b, err := openBackends(cfg, logger)
			if err != nil {
				return err
			}
			defer b.close(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			for _, jobCfg := range jobs {
				c, err := newJobCrawler(jobCfg, b, logger)
				if err != nil {
					return err
				}
				sum, err := crawlOnce(ctx, c, b.locker)
				if sum != nil {
					printSummary(cmd.OutOrStdout(), jobCfg.Name, sum)
				}
				if err != nil {
					return err
				}
				if sum.Cancelled {
					return ctx.Err()
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Crawl this directory as an ad-hoc job")
	return cmd
}

func selectJobs(cfg *config.Config, names []string) ([]config.Job, error) {
	if len(names) == 0 {
		if len(cfg.Jobs) == 0 {
			return nil, xerrors.New("no jobs configured; use --config or --root")
		}
		return cfg.Jobs, nil
	}
	jobs := make([]config.Job, 0, len(names))
	for _, name := range names {
		j, ok := cfg.JobByName(name)
		if !ok {
			return nil, xerrors.Errorf("unknown job %q", name)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func printSummary(w io.Writer, job string, sum *crawler.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "job\t%s\n", job)
	fmt.Fprintf(tw, "root\t%s\n", sum.Root)
	fmt.Fprintf(tw, "duration\t%s\n", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(tw, "files\t%d discovered, %d new, %d modified, %d unchanged, %d removed\n",
		sum.Discovered, sum.New, sum.Modified, sum.Unchanged, sum.Removed)
	fmt.Fprintf(tw, "index\t%d indexed, %d deleted, %d failed\n", sum.Indexed, sum.Deleted, sum.IndexFailed)
	if sum.Vanished > 0 {
		fmt.Fprintf(tw, "vanished\t%d\n", sum.Vanished)
	}
	if sum.ExtractFailed > 0 {
		fmt.Fprintf(tw, "extract failures\t%d\n", sum.ExtractFailed)
	}
	for _, warn := range sum.Warnings {
		fmt.Fprintf(tw, "warning\t%s\n", warn.Error())
	}
	for _, f := range sum.Failures {
		fmt.Fprintf(tw, "failed %s\t%s: %v\n", f.Op, f.Path, f.Err)
	}
	_ = tw.Flush()
}

func newTriggerCmd(opts *cliOptions, rootLogger *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger job...",
		Short: "Ask a running crawler to start a cycle now",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, closeFn, err := dialAdmin(opts, rootLogger)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, job := range args {
				ok, err := cli.Trigger(cmd.Context(), job)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: cycle triggered\n", job)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: cycle already running or pending\n", job)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "The admin endpoint of the running crawler (defaults to admin.listen)")
	return cmd
}

func newStatusCmd(opts *cliOptions, rootLogger *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [job...]",
		Short: "Show the scheduler state of a running crawler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, closeFn, err := dialAdmin(opts, rootLogger)
			if err != nil {
				return err
			}
			defer closeFn()

			if len(args) == 0 {
				if args, err = cli.Jobs(cmd.Context()); err != nil {
					return err
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tROOT\tSTATE\tCYCLES\tLAST ERROR")
			for _, job := range args {
				st, err := cli.Status(cmd.Context(), job)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", st.Name, st.Root, st.State, st.Cycles, st.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "The admin endpoint of the running crawler (defaults to admin.listen)")
	return cmd
}

func dialAdmin(opts *cliOptions, rootLogger *logrus.Logger) (*admin.AdminClient, func(), error) {
	addr := opts.adminAddr
	if addr == "" {
		cfg, err := loadConfig(opts, rootLogger)
		if err != nil {
			return nil, nil, err
		}
		addr = cfg.Admin.Listen
	}
	if addr == "" {
		return nil, nil, xerrors.New("admin address must be specified with --admin-addr or admin.listen")
	}

	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, xerrors.Errorf("dial admin endpoint %s: %w", addr, err)
	}
	return admin.NewAdminClient(conn), func() { _ = conn.Close() }, nil
}

func newSearchCmd(opts *cliOptions, rootLogger *logrus.Logger, logger *logrus.Entry) *cobra.Command {
	var (
		phrase bool
		offset uint64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search query",
		Short: "Query the configured index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, rootLogger)
			if err != nil {
				return err
			}
			idx, err := getIndex(cfg.Index, logger)
			if err != nil {
				return err
			}

			q := indexer.Query{Type: indexer.QueryTypeMatch, Expr: args[0], Offset: offset}
			if phrase {
				q.Type = indexer.QueryTypePhrase
			}
			it, err := idx.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			defer func() { _ = it.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d matching documents\n", it.TotalCount())
			var hits []*indexer.Document
			for len(hits) < limit && it.Next() {
				hits = append(hits, it.Document())
			}
			if err := it.Error(); err != nil {
				return err
			}
			for _, d := range hits {
				fmt.Fprintf(out, "%s\t%s\t%s\n", d.ID, d.Path, d.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&phrase, "phrase", false, "Match the query as an exact phrase")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "The number of results to skip")
	cmd.Flags().IntVar(&limit, "limit", 10, "The maximum number of results to print")
	return cmd
}
