package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mimir-aip/prognosis-go/pkg/config"
	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/hooks"
	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/study"
)

type runOptions struct {
	configPath string
	dataPath   string
	workspace  string
	dbPath     string
	quiet      bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a study described by a YAML file",
		Long: `Runs a study until it completes its iterations, loses patience or is
interrupted. Interrupting with Ctrl-C keeps every checkpoint.

Example:
  prognosis run --config study.yaml --data cohort.csv --db studies.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStudy(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Study YAML file")
	cmd.Flags().StringVarP(&opts.dataPath, "data", "d", "", "CSV file, overrides data_path")
	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", "", "Checkpoint directory, overrides workspace")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite trial store; trials are kept in memory when empty")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Hide the progress bar")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runStudy(ctx context.Context, opts *runOptions) error {
	cfg, err := config.LoadStudyFile(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dataPath != "" {
		cfg.DataPath = opts.dataPath
	}
	if opts.workspace != "" {
		cfg.Workspace = opts.workspace
	}
	if cfg.Workspace == "" {
		cfg.Workspace = "workspace"
	}
	if cfg.DataPath == "" {
		return fmt.Errorf("no data: set data_path in %s or pass --data", opts.configPath)
	}

	frame, err := dataset.LoadCSV(cfg.DataPath)
	if err != nil {
		return err
	}

	var store study.Store = study.NewMemoryStore()
	if opts.dbPath != "" {
		sqlite, err := metadatastore.NewSQLiteStore(opts.dbPath)
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var progress hooks.Hooks = hooks.Default{}
	if !opts.quiet {
		progress = newProgressHooks()
	}

	st, err := study.New(*cfg, frame, registry, store, hooks.FromContext(ctx, progress), logger)
	if err != nil {
		return err
	}

	start := time.Now()
	_, runErr := st.Run(ctx)
	record := st.Record()

	fmt.Printf("\nstudy      %s (%s)\n", record.Name, record.Status)
	fmt.Printf("data       %s rows, %d features\n", humanize.Comma(int64(frame.Nrow())), len(record.Features))
	fmt.Printf("iterations %d of %d\n", record.CompletedIterations, record.TargetIterations)
	fmt.Printf("elapsed    %s\n", time.Since(start).Round(time.Millisecond))
	if record.BestScore != nil {
		fmt.Printf("best       %s\n", record.BestModel)
		fmt.Printf("%-10s %.4f\n", st.Metric(), *record.BestScore)
	}
	if record.ModelPath != "" {
		if info, err := os.Stat(record.ModelPath); err == nil {
			fmt.Printf("model      %s (%s)\n", record.ModelPath, humanize.Bytes(uint64(info.Size())))
		}
	}
	return runErr
}

// progressHooks draws one spinner tick per evaluated trial
type progressHooks struct {
	hooks.Default
	bar *progressbar.ProgressBar
}

func newProgressHooks() *progressHooks {
	return &progressHooks{
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("searching"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("trials"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
		),
	}
}

func (p *progressHooks) Heartbeat(topic, subtopic, event string, fields map[string]interface{}) {
	switch event {
	case study.EventIterationStart:
		p.bar.Describe(fmt.Sprintf("iteration %v", fields["iteration"]))
	case study.EventTrialComplete, study.EventTrialCached, study.EventTrialFailed:
		_ = p.bar.Add(1)
	case study.EventImproved:
		p.bar.Describe(fmt.Sprintf("iteration %v best %.4f", fields["iteration"], fields["score"]))
	}
}

func (p *progressHooks) Finish() {
	_ = p.bar.Finish()
}
