// Package metrics scores predictions and cross-validates pipelines.
package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/models"
)

// Metric names
const (
	AUCROC    = "aucroc"
	Accuracy  = "accuracy"
	F1        = "f1"
	Precision = "precision"
	Recall    = "recall"
	R2        = "r2"
	RMSE      = "rmse"
	MAE       = "mae"
	CIndex    = "c_index"
)

var taskMetrics = map[models.Task][]string{
	models.TaskClassification: {AUCROC, Accuracy, F1, Precision, Recall},
	models.TaskRegression:     {R2, RMSE, MAE},
	models.TaskSurvival:       {CIndex},
}

// ForTask returns the metrics reported for a task; the first is the default.
func ForTask(task models.Task) []string {
	return append([]string(nil), taskMetrics[task]...)
}

// Default returns the default optimization metric of a task.
func Default(task models.Task) string {
	ms := taskMetrics[task]
	if len(ms) == 0 {
		return ""
	}
	return ms[0]
}

// Validate checks that metric applies to task.
func Validate(task models.Task, metric string) error {
	for _, m := range taskMetrics[task] {
		if m == metric {
			return nil
		}
	}
	return fmt.Errorf("metric %q is not available for %s tasks", metric, task)
}

// LowerIsBetter reports whether the metric measures an error.
func LowerIsBetter(metric string) bool {
	return metric == RMSE || metric == MAE
}

// AsScore orients a metric value so that higher is better.
func AsScore(metric string, value float64) float64 {
	if LowerIsBetter(metric) {
		return -value
	}
	return value
}

// ScoreThreshold converts a threshold given in metric units into score units.
// For error metrics the threshold is an upper bound and zero leaves it unbounded.
func ScoreThreshold(metric string, threshold float64) float64 {
	if LowerIsBetter(metric) {
		if threshold <= 0 {
			return math.Inf(-1)
		}
		return -threshold
	}
	return threshold
}

// AccuracyScore is the share of exact matches.
func AccuracyScore(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	correct := 0
	for i := range y {
		if y[i] == pred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

// PrecisionRecallF1 returns binary scores for the largest class label, or
// macro averages over classes when there are more than two.
func PrecisionRecallF1(y, pred, classes []float64) (float64, float64, float64) {
	positives := classes
	if len(classes) == 2 {
		positives = classes[1:]
	}
	var p, r, f float64
	for _, c := range positives {
		tp, fp, fn := 0.0, 0.0, 0.0
		for i := range y {
			switch {
			case pred[i] == c && y[i] == c:
				tp++
			case pred[i] == c:
				fp++
			case y[i] == c:
				fn++
			}
		}
		cp, cr, cf := 0.0, 0.0, 0.0
		if tp+fp > 0 {
			cp = tp / (tp + fp)
		}
		if tp+fn > 0 {
			cr = tp / (tp + fn)
		}
		if cp+cr > 0 {
			cf = 2 * cp * cr / (cp + cr)
		}
		p, r, f = p+cp, r+cr, f+cf
	}
	n := float64(len(positives))
	return p / n, r / n, f / n
}

// binaryAUC is the Mann-Whitney estimate of P(score_pos > score_neg), with
// ties counted as one half.
func binaryAUC(positive []bool, scores []float64) float64 {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, len(scores))
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	nPos, nNeg, rankSum := 0.0, 0.0, 0.0
	for i, pos := range positive {
		if pos {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

// AUCROCScore computes the ROC AUC from class probabilities whose columns
// follow modelClasses. Multiclass problems use the one-vs-rest macro average
// over the classes in y.
func AUCROCScore(y []float64, proba *mat.Dense, modelClasses, classes []float64) float64 {
	column := func(c float64) []float64 {
		out := make([]float64, len(y))
		for j, mc := range modelClasses {
			if mc == c {
				mat.Col(out, j, proba)
				break
			}
		}
		return out
	}

	positives := classes
	if len(classes) == 2 {
		positives = classes[1:]
	}
	total := 0.0
	for _, c := range positives {
		pos := make([]bool, len(y))
		for i, v := range y {
			pos[i] = v == c
		}
		total += binaryAUC(pos, column(c))
	}
	return total / float64(len(positives))
}

// R2Score is the coefficient of determination; 0 when y is constant.
func R2Score(y, pred []float64) float64 {
	mean := stat.Mean(y, nil)
	ssRes, ssTot := 0.0, 0.0
	for i := range y {
		ssRes += (y[i] - pred[i]) * (y[i] - pred[i])
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// RMSEScore is the root mean squared error.
func RMSEScore(y, pred []float64) float64 {
	sum := 0.0
	for i := range y {
		sum += (y[i] - pred[i]) * (y[i] - pred[i])
	}
	return math.Sqrt(sum / float64(len(y)))
}

// MAEScore is the mean absolute error.
func MAEScore(y, pred []float64) float64 {
	sum := 0.0
	for i := range y {
		sum += math.Abs(y[i] - pred[i])
	}
	return sum / float64(len(y))
}

// ConcordanceIndex is Harrell's C: among comparable pairs, the share where the
// subject with the earlier event has the higher risk. Risk ties count one half.
func ConcordanceIndex(durations, events, risks []float64) float64 {
	concordant, comparable := 0.0, 0.0
	for i := range durations {
		if events[i] != 1 {
			continue
		}
		for j := range durations {
			if durations[i] >= durations[j] {
				continue
			}
			comparable++
			switch {
			case risks[i] > risks[j]:
				concordant++
			case risks[i] == risks[j]:
				concordant += 0.5
			}
		}
	}
	if comparable == 0 {
		return 0.5
	}
	return concordant / comparable
}
