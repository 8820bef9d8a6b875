package config

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Environment is the reward multiset and round count of one environment.
type Environment struct {
	Rewards []int `yaml:"rewards"`
	Rounds  int   `yaml:"rounds"`
}

// DurationConfig describes the round-duration distribution in seconds.
type DurationConfig struct {
	Mean       float64 `yaml:"mean"`
	StdDev     float64 `yaml:"stddev"`
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
	Resolution float64 `yaml:"resolution"`
}

// Experiment is the parametrization of the trial engine.
type Experiment struct {
	Order              []string               `yaml:"order"`
	Environments       map[string]Environment `yaml:"environments"`
	DefaultEnvironment string                 `yaml:"default_environment"`
	Alphabet           []string               `yaml:"alphabet"`
	SequenceLength     int                    `yaml:"sequence_length"`
	CueLead            string                 `yaml:"cue_lead"`
	WarningThreshold   string                 `yaml:"warning_threshold"`
	Duration           DurationConfig         `yaml:"duration"`
	WallRatio          float64                `yaml:"wall_ratio"`
	MinWallWidth       float64                `yaml:"min_wall_width"`
	ViewportWidth      float64                `yaml:"viewport_width"`
	ResumeKey          string                 `yaml:"resume_key"`
	StrictInvariants   bool                   `yaml:"strict_invariants"`
	// Seed fixes the random source of every session when non-zero.
	Seed int64 `yaml:"seed"`
}

var (
	defaultAlphabet = []string{"a", "s", "d", "f"}
	defaultOrder    = []string{"poor", "rich", "rich", "poor"}
)

// DefaultExperiment returns the standard poor/rich experiment.
func DefaultExperiment() Experiment {
	return Experiment{
		Order: slices.Clone(defaultOrder),
		Environments: map[string]Environment{
			"poor": {Rewards: multiset(15, 9, 6), Rounds: 30},
			"rich": {Rewards: multiset(6, 9, 15), Rounds: 30},
		},
		DefaultEnvironment: "poor",
		Alphabet:           slices.Clone(defaultAlphabet),
		SequenceLength:     10,
		CueLead:            "3s",
		WarningThreshold:   "2s",
		Duration: DurationConfig{
			Mean:       20,
			StdDev:     2,
			Min:        15,
			Max:        25,
			Resolution: 0.1,
		},
		WallRatio:     0.1,
		MinWallWidth:  100,
		ViewportWidth: 1000,
		ResumeKey:     " ",
	}
}

// multiset builds a 10/30/50-point reward multiset with the given counts.
func multiset(tens, thirties, fifties int) []int {
	values := make([]int, 0, tens+thirties+fifties)
	for range tens {
		values = append(values, 10)
	}
	for range thirties {
		values = append(values, 30)
	}
	for range fifties {
		values = append(values, 50)
	}
	return values
}

// Multisets returns the reward multiset of every environment.
func (e Experiment) Multisets() map[string][]int {
	out := make(map[string][]int, len(e.Environments))
	for name, env := range e.Environments {
		out[name] = slices.Clone(env.Rewards)
	}
	return out
}

// Rounds returns the round count of every environment.
func (e Experiment) Rounds() map[string]int {
	out := make(map[string]int, len(e.Environments))
	for name, env := range e.Environments {
		out[name] = env.Rounds
	}
	return out
}

// FallbackRounds is the round count of the default environment.
func (e Experiment) FallbackRounds() int {
	if env, ok := e.Environments[e.DefaultEnvironment]; ok && env.Rounds > 0 {
		return env.Rounds
	}
	return 30
}

func (e Experiment) DefaultAlphabet() []string {
	return slices.Clone(defaultAlphabet)
}

// CueLeadDuration is how long before the round timeout the cue shows. Zero
// disables the early cue.
func (e Experiment) CueLeadDuration() time.Duration {
	d, err := time.ParseDuration(e.CueLead)
	if err != nil || d < 0 {
		return 3 * time.Second
	}
	return d
}

func (e Experiment) WarningThresholdDuration() time.Duration {
	return parseDuration(e.WarningThreshold, 2*time.Second)
}

func (e *Experiment) normalize() []string {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	defaults := DefaultExperiment()

	if len(e.Environments) == 0 {
		warn("experiment.environments is empty; using defaults")
		e.Environments = defaults.Environments
	}
	if _, ok := e.Environments[e.DefaultEnvironment]; !ok {
		fallback := defaults.DefaultEnvironment
		if _, known := e.Environments[fallback]; !known {
			names := make([]string, 0, len(e.Environments))
			for name := range e.Environments {
				names = append(names, name)
			}
			slices.Sort(names)
			fallback = names[0]
		}
		warn("experiment.default_environment %q is not configured; using %q", e.DefaultEnvironment, fallback)
		e.DefaultEnvironment = fallback
	}
	for name, env := range e.Environments {
		if len(env.Rewards) == 0 {
			warn("environment %q has no rewards; using the %q multiset", name, e.DefaultEnvironment)
			env.Rewards = slices.Clone(e.Environments[e.DefaultEnvironment].Rewards)
		}
		if env.Rounds <= 0 {
			warn("environment %q has no rounds; using %d", name, e.FallbackRounds())
			env.Rounds = e.FallbackRounds()
		}
		if env.Rounds > len(env.Rewards) && len(env.Rewards) > 0 {
			warn("environment %q runs %d rounds over %d rewards; rewards will repeat", name, env.Rounds, len(env.Rewards))
		}
		e.Environments[name] = env
	}
	if len(e.Order) == 0 {
		warn("experiment.order is empty; using %v", defaultOrder)
		e.Order = slices.Clone(defaultOrder)
	}
	for _, name := range e.Order {
		if _, ok := e.Environments[name]; !ok {
			warn("environment %q in order is not configured; it will use the %q multiset", name, e.DefaultEnvironment)
		}
	}

	alphabet := make([]string, 0, len(e.Alphabet))
	for _, key := range e.Alphabet {
		key = strings.ToLower(key)
		if key == "" || slices.Contains(alphabet, key) {
			continue
		}
		alphabet = append(alphabet, key)
	}
	if len(alphabet) == 0 {
		warn("experiment.alphabet is empty; using %v", defaultAlphabet)
		alphabet = slices.Clone(defaultAlphabet)
	}
	e.Alphabet = alphabet
	if e.SequenceLength <= 0 {
		warn("experiment.sequence_length must be positive; using %d", defaults.SequenceLength)
		e.SequenceLength = defaults.SequenceLength
	}
	if d, err := time.ParseDuration(e.CueLead); err != nil || d < 0 {
		warn("experiment.cue_lead %q is invalid; using %s", e.CueLead, defaults.CueLead)
		e.CueLead = defaults.CueLead
	}
	if d, err := time.ParseDuration(e.WarningThreshold); err != nil || d <= 0 {
		warn("experiment.warning_threshold %q must be positive; using %s", e.WarningThreshold, defaults.WarningThreshold)
		e.WarningThreshold = defaults.WarningThreshold
	}

	dur := &e.Duration
	if dur.Min > dur.Max {
		warn("experiment.duration min %.2f exceeds max %.2f; swapping", dur.Min, dur.Max)
		dur.Min, dur.Max = dur.Max, dur.Min
	}
	if dur.Max <= 0 || !finite(dur.Min, dur.Max, dur.Mean, dur.StdDev) {
		warn("experiment.duration is invalid; using defaults")
		*dur = defaults.Duration
	}
	if dur.StdDev < 0 {
		warn("experiment.duration.stddev is negative; using %.2f", -dur.StdDev)
		dur.StdDev = -dur.StdDev
	}
	if dur.Resolution <= 0 || math.IsNaN(dur.Resolution) {
		warn("experiment.duration.resolution must be positive; using %.2f", defaults.Duration.Resolution)
		dur.Resolution = defaults.Duration.Resolution
	}

	if e.WallRatio <= 0 || e.WallRatio >= 0.5 {
		warn("experiment.wall_ratio %.3f must be in (0, 0.5); using %.2f", e.WallRatio, defaults.WallRatio)
		e.WallRatio = defaults.WallRatio
	}
	if e.MinWallWidth < 0 || !finite(e.MinWallWidth) {
		warn("experiment.min_wall_width %.1f must not be negative; using %.0f", e.MinWallWidth, defaults.MinWallWidth)
		e.MinWallWidth = defaults.MinWallWidth
	}
	if e.ViewportWidth <= 0 {
		warn("experiment.viewport_width must be positive; using %.0f", defaults.ViewportWidth)
		e.ViewportWidth = defaults.ViewportWidth
	}
	return warnings
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
