// Package backends registers the service backends shipped with orchestra.
package backends

import (
	"github.com/hostpanel/orchestra/pkg/backends/apache"
	"github.com/hostpanel/orchestra/pkg/backends/bind9"
	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// Settings groups the backend settings.
type Settings struct {
	Domains  bind9.Settings  `mapstructure:"domains"`
	Websites apache.Settings `mapstructure:"websites"`
}

// DefaultSettings returns the stock settings of every backend.
func DefaultSettings() Settings {
	return Settings{
		Domains:  bind9.DefaultSettings(),
		Websites: apache.DefaultSettings(),
	}
}

// Register adds every backend to registry. Bind9 peers are discovered through
// router, which may be nil to rely on configured addresses only.
func Register(registry *orchestration.Registry, router *orchestration.Router, settings Settings, catalog *models.Catalog) error {
	var peers bind9.PeerResolver
	if router != nil {
		peers = &bind9.RoutedPeers{Registry: registry, Router: router}
	}
	all := append(bind9.Backends(settings.Domains, catalog, peers), apache.NewBackend(settings.Websites, catalog))
	for _, b := range all {
		if err := registry.Register(b); err != nil {
			return err
		}
	}
	return nil
}
