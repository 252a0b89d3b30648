package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/metrics"
	"github.com/mimir-aip/prognosis-go/pkg/models"
)

func newEvaluateCmd() *cobra.Command {
	var modelPath, dataPath, task, target, timeToEvent, metric string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a saved model on a labelled CSV file",
		Long: `Evaluates a fitted model on held-out data and prints every metric of the task.

Example:
  prognosis evaluate --model model.p --data holdout.csv --task survival --target event --time-to-event time`,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadPredictor(modelPath)
			if err != nil {
				return err
			}
			frame, err := dataset.LoadCSV(dataPath)
			if err != nil {
				return err
			}

			opts := metrics.Options{Task: models.Task(task), Metric: metric}
			targets := []string{target}
			if opts.Task == models.TaskSurvival {
				if timeToEvent == "" {
					return fmt.Errorf("--time-to-event is required for survival models")
				}
				targets = append(targets, timeToEvent)
			}
			X, ys, err := dataset.SplitTarget(frame, targets...)
			if err != nil {
				return err
			}
			if opts.Task == models.TaskSurvival {
				opts.Durations = ys[1]
			}

			score, all, err := metrics.Score(model, X, ys[0], opts)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("model  %s\n", model.Name())
			for _, name := range names {
				fmt.Printf("%-10s %.4f\n", name, all[name])
			}
			if metric == "" {
				metric = metrics.Default(opts.Task)
			}
			fmt.Printf("score (%s) %.4f\n", metric, score)
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Saved model file")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "Labelled CSV file")
	cmd.Flags().StringVar(&task, "task", string(models.TaskClassification), "classification, regression or survival")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target column")
	cmd.Flags().StringVar(&timeToEvent, "time-to-event", "", "Duration column of survival data")
	cmd.Flags().StringVar(&metric, "metric", "", "Metric to report as the score; the task default when empty")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
