package metrics

import (
	"fmt"
	"math/rand"
	"sort"
)

// Fold holds train and test row indices.
type Fold struct {
	Train []int
	Test  []int
}

// KFold shuffles 0..n-1 with seed and splits it into k folds of near-equal size.
func KFold(n, k int, seed int64) ([]Fold, error) {
	if err := checkFolds(n, k); err != nil {
		return nil, err
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	assign := make([]int, n)
	for i, r := range perm {
		assign[r] = i % k
	}
	return buildFolds(assign, k), nil
}

// StratifiedKFold keeps each label's share roughly equal across folds.
func StratifiedKFold(labels []float64, k int, seed int64) ([]Fold, error) {
	n := len(labels)
	if err := checkFolds(n, k); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	groups := make(map[float64][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	keys := make([]float64, 0, len(groups))
	for l := range groups {
		keys = append(keys, l)
	}
	sort.Float64s(keys)

	assign := make([]int, n)
	next := 0
	for _, l := range keys {
		rows := groups[l]
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		for _, r := range rows {
			assign[r] = next % k
			next++
		}
	}
	return buildFolds(assign, k), nil
}

func checkFolds(n, k int) error {
	if k < 2 {
		return fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if n < k {
		return fmt.Errorf("cannot split %d rows into %d folds", n, k)
	}
	return nil
}

func buildFolds(assign []int, k int) []Fold {
	folds := make([]Fold, k)
	for r, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, r)
			} else {
				folds[j].Train = append(folds[j].Train, r)
			}
		}
	}
	return folds
}
