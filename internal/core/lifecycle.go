package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// A module opts into lifecycle phases by implementing the interfaces below.
// LoadModule runs Configure, Provision and Validate in that order; App runs
// Start in load order and Stop in reverse.

// Configurable receives the module's entry under modules: in the config
// file. Modules without an entry are never configured.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner applies defaults, opens connections and publishes or looks up
// shared services.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator checks the provisioned state without side effects.
type Validator interface {
	Validate() error
}

// Starter launches background work such as the minute trigger or an HTTP
// listener.
type Starter interface {
	Start() error
}

// Stopper releases what Provision or Start acquired.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader re-applies a changed config file without a restart.
type Reloader interface {
	Reload(ctx *AppContext) error
}
