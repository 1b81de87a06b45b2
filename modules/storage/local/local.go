// Package local registers the "storage.local" module, which keeps
// attachments on disk under the data directory.
package local

import (
	"errors"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/reddichat/internal/core"
	"github.com/flemzord/reddichat/internal/storage"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

const defaultBaseURL = "http://localhost:8080/files"

// Config configures on-disk storage.
type Config struct {
	// Dir defaults to {data_dir}/uploads.
	Dir string `yaml:"dir"`
	// BaseURL is the public prefix files are served under.
	BaseURL string `yaml:"base_url"`
}

// Module provides a storage.Local as the storage service.
type Module struct {
	config Config
	local  *storage.Local
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.local",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("storage.local: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	if m.config.Dir == "" {
		m.config.Dir = filepath.Join(ctx.DataDir, "uploads")
	}
	if m.config.BaseURL == "" {
		m.config.BaseURL = defaultBaseURL
	}
	l, err := storage.NewLocal(m.config.Dir, m.config.BaseURL)
	if err != nil {
		return err
	}
	m.local = l
	ctx.RegisterService(storage.ServiceName, storage.Uploader(l))
	ctx.Logger.Info("local storage provisioned", "dir", m.config.Dir)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.local == nil {
		return errors.New("storage.local: not provisioned")
	}
	return nil
}

// Local returns the provisioned storage.
func (m *Module) Local() *storage.Local {
	return m.local
}
