package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept YAML configuration.
// The node holds the module's entry under "modules:" in the config file.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that open connections or build
// clients once configured. Services for other components are registered
// here.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can check their configuration.
// Called after Provision(). Validate must not have side effects.
type Validator interface {
	Validate() error
}

// Starter is implemented by components that run background work
// (listeners, schedulers).
type Starter interface {
	Start() error
}

// Stopper is implemented by components that hold resources. Called during
// shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}
