package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/flemzord/cronsync/internal/core"
)

// schedulerModule is the module that drives evaluation. When present it
// needs exactly one task store and one runner next to it.
const schedulerModule = "scheduler"

// Validate checks the structural validity of a Config: the version, the
// presence of modules, that every module ID is compiled in, and that the
// store/runner/watermark roles are not ambiguous.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validateRoles(cfg)...)

	return errors.Join(errs...)
}

// validateRoles enforces one backend per role. A second store would leave
// it undefined which one the scheduler talks to.
func validateRoles(cfg *Config) []error {
	var errs []error

	roles := map[string][]string{}
	for _, role := range []string{"store", "runner", "watermark"} {
		roles[role] = ModulesWithPrefix(cfg, role)
		if ids := roles[role]; len(ids) > 1 {
			errs = append(errs, fmt.Errorf("config: at most one %s module allowed, got %s", role, strings.Join(ids, ", ")))
		}
	}

	if _, ok := cfg.Modules[schedulerModule]; ok {
		for _, role := range []string{"store", "runner"} {
			if len(roles[role]) == 0 {
				errs = append(errs, fmt.Errorf("config: module %q requires a %s.* module", schedulerModule, role))
			}
		}
	}

	return errs
}

// ModulesWithPrefix returns the configured module IDs in namespace ns.
func ModulesWithPrefix(cfg *Config, ns string) []string {
	var out []string
	for _, id := range Resolve(cfg) {
		if strings.HasPrefix(id, ns+".") {
			out = append(out, id)
		}
	}
	return slices.Clip(out)
}
