// Package params describes plugin hyperparameter spaces and samples them.
package params

import (
	"fmt"
	"math"
	"math/rand"
)

// Suggester draws hyperparameter values. *goptuna.Trial satisfies it.
type Suggester interface {
	SuggestInt(name string, low, high int) (int, error)
	SuggestFloat(name string, low, high float64) (float64, error)
	SuggestLogFloat(name string, low, high float64) (float64, error)
	SuggestCategorical(name string, choices []string) (string, error)
}

// Param is a single tunable hyperparameter.
type Param interface {
	ParamName() string
	// Suggest draws a value; the optimizer sees the name as prefix+name so
	// the same parameter of different plugins stays independent.
	Suggest(s Suggester, prefix string) (interface{}, error)
	Default() interface{}
	Validate() error
}

// Integer is an integer range [Low, High].
type Integer struct {
	Name string
	Low  int
	High int
}

func (p Integer) ParamName() string { return p.Name }

func (p Integer) Suggest(s Suggester, prefix string) (interface{}, error) {
	return s.SuggestInt(prefix+p.Name, p.Low, p.High)
}

func (p Integer) Default() interface{} { return p.Low }

func (p Integer) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("integer param has no name")
	}
	if p.Low > p.High {
		return fmt.Errorf("param %s: low %d > high %d", p.Name, p.Low, p.High)
	}
	return nil
}

// Float is a real range [Low, High], sampled in the log domain when Log is set.
type Float struct {
	Name string
	Low  float64
	High float64
	Log  bool
}

func (p Float) ParamName() string { return p.Name }

func (p Float) Suggest(s Suggester, prefix string) (interface{}, error) {
	if p.Log {
		return s.SuggestLogFloat(prefix+p.Name, p.Low, p.High)
	}
	return s.SuggestFloat(prefix+p.Name, p.Low, p.High)
}

func (p Float) Default() interface{} {
	if p.Log {
		return math.Sqrt(p.Low * p.High)
	}
	return (p.Low + p.High) / 2
}

func (p Float) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("float param has no name")
	}
	if p.Low > p.High {
		return fmt.Errorf("param %s: low %g > high %g", p.Name, p.Low, p.High)
	}
	if p.Log && p.Low <= 0 {
		return fmt.Errorf("param %s: log range needs a positive low bound", p.Name)
	}
	return nil
}

// Categorical picks one of Choices. Choices may be strings, ints, floats or bools;
// the optimizer only sees their string form.
type Categorical struct {
	Name    string
	Choices []interface{}
}

func (p Categorical) ParamName() string { return p.Name }

func (p Categorical) Suggest(s Suggester, prefix string) (interface{}, error) {
	labels := make([]string, len(p.Choices))
	for i, c := range p.Choices {
		labels[i] = fmt.Sprint(c)
	}
	picked, err := s.SuggestCategorical(prefix+p.Name, labels)
	if err != nil {
		return nil, err
	}
	for i, l := range labels {
		if l == picked {
			return p.Choices[i], nil
		}
	}
	return nil, fmt.Errorf("param %s: optimizer returned unknown choice %q", p.Name, picked)
}

func (p Categorical) Default() interface{} { return p.Choices[0] }

func (p Categorical) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("categorical param has no name")
	}
	if len(p.Choices) == 0 {
		return fmt.Errorf("param %s: no choices", p.Name)
	}
	seen := make(map[string]bool, len(p.Choices))
	for _, c := range p.Choices {
		key := fmt.Sprint(c)
		if seen[key] {
			return fmt.Errorf("param %s: duplicate choice %q", p.Name, key)
		}
		seen[key] = true
	}
	return nil
}

// SuggestAll draws every parameter of a space.
func SuggestAll(s Suggester, prefix string, space []Param) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(space))
	for _, p := range space {
		v, err := p.Suggest(s, prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest %s%s: %w", prefix, p.ParamName(), err)
		}
		args[p.ParamName()] = v
	}
	return args, nil
}

// Defaults returns the default value of every parameter of a space.
func Defaults(space []Param) map[string]interface{} {
	args := make(map[string]interface{}, len(space))
	for _, p := range space {
		args[p.ParamName()] = p.Default()
	}
	return args
}

// RandomSuggester samples uniformly with its own generator. It stands in for an
// optimizer trial when plain random search is enough.
type RandomSuggester struct {
	Rand *rand.Rand
}

// NewRandomSuggester returns a seeded RandomSuggester.
func NewRandomSuggester(seed int64) *RandomSuggester {
	return &RandomSuggester{Rand: rand.New(rand.NewSource(seed))}
}

func (r *RandomSuggester) SuggestInt(_ string, low, high int) (int, error) {
	if high < low {
		return 0, fmt.Errorf("invalid int range [%d, %d]", low, high)
	}
	return low + r.Rand.Intn(high-low+1), nil
}

func (r *RandomSuggester) SuggestFloat(_ string, low, high float64) (float64, error) {
	if high < low {
		return 0, fmt.Errorf("invalid float range [%g, %g]", low, high)
	}
	return low + r.Rand.Float64()*(high-low), nil
}

func (r *RandomSuggester) SuggestLogFloat(name string, low, high float64) (float64, error) {
	if low <= 0 {
		return 0, fmt.Errorf("invalid log range [%g, %g]", low, high)
	}
	v, err := r.SuggestFloat(name, math.Log(low), math.Log(high))
	if err != nil {
		return 0, err
	}
	return math.Exp(v), nil
}

func (r *RandomSuggester) SuggestCategorical(_ string, choices []string) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return choices[r.Rand.Intn(len(choices))], nil
}
