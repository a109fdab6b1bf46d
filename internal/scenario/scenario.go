// Package scenario loads the weighted task list simulated users execute.
//
// A scenario is a YAML document:
//
//	request_type: jr
//	tasks:
//	  - name: net_device
//	    weight: 3
//	    args: ["run", "net_device", "-n", "1"]
//	    wait_min: 100ms
//	    wait_max: 500ms
//
// ${VAR} and ${VAR:-default} references are expanded from the environment
// before parsing.
package scenario

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a set of weighted tasks.
type Scenario struct {
	// RequestType labels every event. Defaults to "jr".
	RequestType string `yaml:"request_type"`
	Tasks       []Task `yaml:"tasks"`

	totalWeight int
}

// Task is one jr invocation shape.
type Task struct {
	Name    string   `yaml:"name"`
	Weight  int      `yaml:"weight"`
	Args    []string `yaml:"args"`
	WaitMin Duration `yaml:"wait_min"`
	WaitMax Duration `yaml:"wait_max"`
}

// Duration wraps time.Duration for YAML strings such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scenario file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read scenario file %q: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &s); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Single builds the scenario used when no file is given: one task named
// name running args with the given wait range.
func Single(name string, args []string, waitMin, waitMax time.Duration) (*Scenario, error) {
	s := &Scenario{
		Tasks: []Task{{
			Name:    name,
			Weight:  1,
			Args:    args,
			WaitMin: Duration{waitMin},
			WaitMax: Duration{waitMax},
		}},
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// normalize applies defaults and validates.
func (s *Scenario) normalize() error {
	if s.RequestType == "" {
		s.RequestType = "jr"
	}
	if len(s.Tasks) == 0 {
		return errors.New("scenario has no tasks")
	}

	var errs []error
	seen := make(map[string]bool, len(s.Tasks))
	s.totalWeight = 0

	for i := range s.Tasks {
		t := &s.Tasks[i]
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("task %d: name is required", i))
		} else if seen[t.Name] {
			errs = append(errs, fmt.Errorf("task %q: duplicate name", t.Name))
		}
		seen[t.Name] = true

		if t.Weight < 0 {
			errs = append(errs, fmt.Errorf("task %q: weight must not be negative", t.Name))
		}
		if t.Weight == 0 {
			t.Weight = 1
		}
		if t.WaitMin.Duration < 0 || t.WaitMax.Duration < 0 {
			errs = append(errs, fmt.Errorf("task %q: wait times must not be negative", t.Name))
		}
		if t.WaitMax.Duration == 0 {
			t.WaitMax = t.WaitMin
		}
		if t.WaitMin.Duration > t.WaitMax.Duration {
			errs = append(errs, fmt.Errorf("task %q: wait_min %v exceeds wait_max %v",
				t.Name, t.WaitMin.Duration, t.WaitMax.Duration))
		}
		s.totalWeight += t.Weight
	}

	return errors.Join(errs...)
}

// TotalWeight returns the sum of task weights.
func (s *Scenario) TotalWeight() int {
	return s.totalWeight
}

// Pick returns a task chosen with probability weight/TotalWeight.
func (s *Scenario) Pick(rng *rand.Rand) *Task {
	if len(s.Tasks) == 1 || s.totalWeight <= 0 {
		return &s.Tasks[0]
	}
	n := rng.Intn(s.totalWeight)
	for i := range s.Tasks {
		n -= s.Tasks[i].Weight
		if n < 0 {
			return &s.Tasks[i]
		}
	}
	return &s.Tasks[len(s.Tasks)-1]
}

// Wait returns a duration uniformly drawn from [WaitMin, WaitMax].
func (t *Task) Wait(rng *rand.Rand) time.Duration {
	lo, hi := t.WaitMin.Duration, t.WaitMax.Duration
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}
