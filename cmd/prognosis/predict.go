package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/serialization"
)

func loadPredictor(path string) (plugins.Predictor, error) {
	p, err := serialization.LoadModelFromFile(registry, path)
	if err != nil {
		return nil, err
	}
	model, ok := p.(plugins.Predictor)
	if !ok {
		return nil, fmt.Errorf("%s does not hold a predictor", path)
	}
	return model, nil
}

func newPredictCmd() *cobra.Command {
	var modelPath, dataPath, output string
	var drop []string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score a CSV file with a saved model",
		Long: `Writes one prediction per row, followed by class probabilities for
classifiers. The CSV must hold the feature columns the model was trained on;
other columns are removed with --drop.

Example:
  prognosis predict --model workspace/cohort/model.p --data new.csv --drop outcome`,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadPredictor(modelPath)
			if err != nil {
				return err
			}
			frame, err := dataset.LoadCSV(dataPath)
			if err != nil {
				return err
			}
			if len(drop) > 0 {
				if frame, err = frame.Drop(drop...); err != nil {
					return err
				}
			}

			var out io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return writePredictions(out, model, frame)
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Saved model file")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV file to score")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV; stdout when empty")
	cmd.Flags().StringSliceVar(&drop, "drop", nil, "Columns to remove before scoring")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func writePredictions(out io.Writer, model plugins.Predictor, frame *dataset.Frame) error {
	pred, err := model.Predict(frame)
	if err != nil {
		return err
	}

	var classes []float64
	if clf, ok := model.(plugins.Classifier); ok {
		classes = clf.Classes()
	}
	header := []string{"prediction"}
	for _, c := range classes {
		header = append(header, "proba_"+strconv.FormatFloat(c, 'g', -1, 64))
	}

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return err
	}
	var proba *mat.Dense
	if len(classes) > 0 {
		if proba, err = model.PredictProba(frame); err != nil {
			return err
		}
	}
	for i, p := range pred {
		row := []string{strconv.FormatFloat(p, 'g', -1, 64)}
		for j := range classes {
			row = append(row, strconv.FormatFloat(proba.At(i, j), 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
