package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
)

// TaskConfig declares one task.
type TaskConfig struct {
	Name     string          `yaml:"name"`
	Interval string          `yaml:"interval"`
	Timeout  time.Duration   `yaml:"timeout"`
	Steps    []schedule.Step `yaml:"steps"`
}

func (t TaskConfig) work() schedule.WorkSpec {
	return schedule.WorkSpec{Steps: t.Steps, Timeout: t.Timeout}
}

// Config holds the scheduler module configuration.
type Config struct {
	// Tenants receive every declared task. Defaults to ["default"].
	Tenants []string `yaml:"tenants"`
	// Location is the IANA zone cadences are evaluated in. Defaults to the
	// process's local zone.
	Location string       `yaml:"location"`
	Tasks    []TaskConfig `yaml:"tasks"`
}

func (c *Config) loadLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("scheduler: location %q: %w", c.Location, err)
	}
	return loc, nil
}

// validate checks the structure of the declarations. Intervals are left to
// reconciliation, where a bad one only fails its own task.
func (c *Config) validate() error {
	var errs []error
	if _, err := c.loadLocation(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("scheduler: tasks[%d]: name is required", i))
			continue
		case seen[name]:
			errs = append(errs, fmt.Errorf("scheduler: task %q declared twice", name))
		}
		seen[name] = true

		if t.Timeout < 0 {
			errs = append(errs, fmt.Errorf("scheduler: task %q: timeout must not be negative", name))
		}
		if len(t.Steps) == 0 {
			errs = append(errs, fmt.Errorf("scheduler: task %q: at least one step is required", name))
		}
		for j, s := range t.Steps {
			if strings.TrimSpace(s.Command) == "" {
				errs = append(errs, fmt.Errorf("scheduler: task %q: steps[%d]: command is required", name, j))
			}
		}
	}
	return errors.Join(errs...)
}
