// Package bind9 renders DNS zones and named configuration for Bind9 master
// and slave servers.
package bind9

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/shell"
)

// Backend names.
const (
	MasterBackend = "dns-master"
	SlaveBackend  = "dns-slave"
)

// Role selects what a controller renders.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// ZoneContext is the template context of one zone.
type ZoneContext struct {
	Role     Role     `json:"role"`
	Name     string   `json:"name"`
	Banner   string   `json:"banner"`
	ConfPath string   `json:"conf_path"`
	ConfTmp  string   `json:"-"`
	Conf     string   `json:"conf"`
	Masters  []string `json:"masters,omitempty"`
	Slaves   []string `json:"slaves,omitempty"`

	// Master only.
	ZonePath     string `json:"zone_path,omitempty"`
	ZoneDir      string `json:"-"`
	ZoneTmp      string `json:"-"`
	Zone         string `json:"zone,omitempty"`
	CheckZone    string `json:"-"`
	SubzoneFiles string `json:"-"`
}

// PeerResolver returns the addresses of the servers another backend routes an
// instance to.
type PeerResolver interface {
	PeerAddresses(ctx context.Context, backend string, inst orchestration.Instance) ([]string, error)
}

// RoutedPeers resolves peers with the router.
type RoutedPeers struct {
	Registry *orchestration.Registry
	Router   *orchestration.Router
}

// PeerAddresses implements PeerResolver. An unregistered or unrouted backend
// has no peers.
func (p *RoutedPeers) PeerAddresses(ctx context.Context, backend string, inst orchestration.Instance) ([]string, error) {
	b, ok := p.Registry.Get(backend)
	if !ok {
		return nil, nil
	}
	servers, err := p.Router.Servers(ctx, b, inst)
	if err != nil {
		if orchestration.IsNoRoute(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		addr := s.Address
		if addr == "" {
			addr = s.Name
		}
		out = append(out, addr)
	}
	return out, nil
}

// IsTopDomain accepts domains owning a zone.
func IsTopDomain(inst orchestration.Instance) bool {
	d, ok := inst.(*models.Domain)
	return ok && d.IsTop()
}

// Controller renders the scripts of one bucket.
type Controller struct {
	role     Role
	settings Settings
	peers    PeerResolver
	done     map[string]bool
}

var (
	_ orchestration.ServiceController = (*Controller)(nil)
	_ orchestration.ContextProvider   = (*Controller)(nil)
)

// NewController creates a controller for role.
func NewController(role Role, settings Settings, peers PeerResolver) *Controller {
	return &Controller{role: role, settings: settings, peers: peers, done: make(map[string]bool)}
}

func (c *Controller) backendName() string {
	if c.role == RoleSlave {
		return SlaveBackend
	}
	return MasterBackend
}

func (c *Controller) confPath() string {
	if c.role == RoleSlave {
		return c.settings.SlavesPath
	}
	return c.settings.MastersPath
}

// Context implements orchestration.ContextProvider.
func (c *Controller) Context(ctx context.Context, inst orchestration.Instance) (any, error) {
	d, ok := inst.(*models.Domain)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", models.KindDomain, inst.Kind())
	}
	return c.zoneContext(ctx, d, true)
}

func (c *Controller) zoneContext(ctx context.Context, d *models.Domain, render bool) (*ZoneContext, error) {
	zc := &ZoneContext{
		Role:     c.role,
		Name:     d.Name,
		Banner:   orchestration.Banner(c.backendName()),
		ConfPath: c.confPath(),
	}
	zc.ConfTmp = zc.ConfPath + ".tmp"

	var err error
	switch c.role {
	case RoleMaster:
		zc.ZonePath = c.settings.ZoneFile(d.Name)
		zc.ZoneDir = path.Dir(zc.ZonePath)
		zc.ZoneTmp = zc.ZonePath + ".tmp"
		zc.CheckZone = c.settings.CheckZoneCommand
		zc.SubzoneFiles, err = c.settings.subdomainZoneFiles(d.Name, shell.Quote)
		if err != nil {
			return nil, err
		}
		zc.Slaves, err = c.addresses(ctx, c.settings.Slaves, SlaveBackend, d)
		if err != nil {
			return nil, err
		}
		if render {
			zone, err := d.RenderZone(c.settings.Zone)
			if err != nil {
				return nil, err
			}
			zc.Zone = ";; " + zc.Banner + "\n" + zone
		}
		zc.Conf, err = masterConfTmpl.Render(zc)
	case RoleSlave:
		zc.Masters, err = c.addresses(ctx, c.settings.Masters, MasterBackend, d)
		if err != nil {
			return nil, err
		}
		zc.Conf, err = slaveConfTmpl.Render(zc)
	default:
		return nil, fmt.Errorf("unknown role %q", c.role)
	}
	if err != nil {
		return nil, err
	}
	return zc, nil
}

// addresses merges configured addresses with the servers routed for the peer
// backend, keeping the first occurrence.
func (c *Controller) addresses(ctx context.Context, configured []string, peer string, d *models.Domain) ([]string, error) {
	all := append([]string(nil), configured...)
	if c.peers != nil {
		routed, err := c.peers.PeerAddresses(ctx, peer, d)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s servers: %w", peer, err)
		}
		all = append(all, routed...)
	}
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, a := range all {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

func (c *Controller) once(action orchestration.Action, name string) bool {
	key := string(action) + ":" + name
	if c.done[key] {
		return false
	}
	c.done[key] = true
	return true
}

// Save implements orchestration.ServiceController.
func (c *Controller) Save(ctx context.Context, s *orchestration.Script, inst orchestration.Instance) error {
	d, ok := inst.(*models.Domain)
	if !ok {
		return fmt.Errorf("expected %s, got %s", models.KindDomain, inst.Kind())
	}
	if !d.IsTop() {
		return fmt.Errorf("%s is a subdomain of %s", d.Name, d.Top)
	}
	if !c.once(orchestration.ActionSave, d.Name) {
		return nil
	}

	zc, err := c.zoneContext(ctx, d, c.role == RoleMaster)
	if err != nil {
		return err
	}

	var tmpls []*shell.Template
	if c.role == RoleMaster {
		tmpls = append(tmpls, updateZoneTmpl, updateConfTmpl, removeSubzonesTmpl)
	} else {
		tmpls = append(tmpls, updateConfTmpl)
	}
	return appendAll(s, zc, tmpls...)
}

// Delete implements orchestration.ServiceController.
func (c *Controller) Delete(ctx context.Context, s *orchestration.Script, inst orchestration.Instance) error {
	d, ok := inst.(*models.Domain)
	if !ok {
		return fmt.Errorf("expected %s, got %s", models.KindDomain, inst.Kind())
	}
	if !c.once(orchestration.ActionDelete, d.Name) {
		return nil
	}

	zc, err := c.zoneContext(ctx, d, false)
	if err != nil {
		return err
	}

	var tmpls []*shell.Template
	if c.role == RoleMaster {
		tmpls = append(tmpls, deleteZoneTmpl)
	}
	// wildcard and underscore names are never zones of their own
	if !strings.HasPrefix(d.Name, "*") && !strings.HasPrefix(d.Name, "_") {
		tmpls = append(tmpls, deleteConfTmpl)
	}
	return appendAll(s, zc, tmpls...)
}

// Commit implements orchestration.ServiceController.
func (c *Controller) Commit(_ context.Context, s *orchestration.Script) error {
	tmpl := masterCommitTmpl
	if c.role == RoleSlave {
		tmpl = slaveCommitTmpl
	}
	fragment, err := tmpl.Render(struct{ Reload string }{c.settings.ReloadCommand})
	if err != nil {
		return err
	}
	return s.Append(fragment)
}

func appendAll(s *orchestration.Script, data any, tmpls ...*shell.Template) error {
	for _, t := range tmpls {
		fragment, err := t.Render(data)
		if err != nil {
			return err
		}
		if err := s.Append(fragment); err != nil {
			return err
		}
	}
	return nil
}

// Backends returns the master and slave descriptors. catalog provides the
// related-model resolvers.
func Backends(settings Settings, catalog *models.Catalog, peers PeerResolver) []*orchestration.Backend {
	return []*orchestration.Backend{
		{
			Name:        MasterBackend,
			VerboseName: "Bind9 master domain",
			Model:       models.KindDomain,
			Related: []orchestration.RelatedModel{
				{Kind: models.KindRecord, Path: "record.domain.origin", Resolve: catalog.RecordOrigin},
				{Kind: models.KindDomain, Path: "domain.origin", Resolve: catalog.DomainOrigin},
			},
			IsMain:            IsTopDomain,
			DefaultRouteMatch: "True",
			IgnoreFields:      []string{"serial"},
			NewController: func() orchestration.ServiceController {
				return NewController(RoleMaster, settings, peers)
			},
		},
		{
			Name:        SlaveBackend,
			VerboseName: "Bind9 slave domain",
			Model:       models.KindDomain,
			Related: []orchestration.RelatedModel{
				{Kind: models.KindDomain, Path: "domain.origin", Resolve: catalog.DomainOrigin},
			},
			IsMain:            IsTopDomain,
			Multiple:          true,
			DefaultRouteMatch: "True",
			IgnoreFields:      []string{"serial", "records"},
			NewController: func() orchestration.ServiceController {
				return NewController(RoleSlave, settings, peers)
			},
		},
	}
}
