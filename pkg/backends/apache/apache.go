// Package apache renders Apache2 virtual hosts for websites.
package apache

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// Backend is the registered backend name.
const Backend = "apache2"

// VHostContext is the template context of one website.
type VHostContext struct {
	Site          string   `json:"site"`
	Banner        string   `json:"banner"`
	Active        bool     `json:"active"`
	ServerName    string   `json:"server_name"`
	Aliases       []string `json:"aliases,omitempty"`
	IPs           []string `json:"ips"`
	HTTP          bool     `json:"http"`
	HTTPS         bool     `json:"https"`
	RedirectHTTPS bool     `json:"redirect_https"`
	DocumentRoot  string   `json:"document_root"`
	AccessLog     string   `json:"access_log"`
	ErrorLog      string   `json:"error_log"`
	CertFile      string   `json:"cert_file,omitempty"`
	KeyFile       string   `json:"key_file,omitempty"`

	AvailableDir string `json:"-"`
	Path         string `json:"path"`
	EnabledPath  string `json:"enabled_path"`
	Conf         string `json:"conf"`
	Enable       string `json:"-"`
	Disable      string `json:"-"`
}

// Listen returns the VirtualHost address list for port.
func (c *VHostContext) Listen(port int) string {
	addrs := make([]string, 0, len(c.IPs))
	for _, ip := range c.IPs {
		if strings.Contains(ip, ":") {
			ip = "[" + ip + "]"
		}
		addrs = append(addrs, fmt.Sprintf("%s:%d", ip, port))
	}
	return strings.Join(addrs, " ")
}

// Controller renders the vhosts of one bucket.
type Controller struct {
	settings Settings
	done     map[string]bool
}

var (
	_ orchestration.ServiceController = (*Controller)(nil)
	_ orchestration.ContextProvider   = (*Controller)(nil)
)

// NewController creates a controller.
func NewController(settings Settings) *Controller {
	return &Controller{settings: settings, done: make(map[string]bool)}
}

// Context implements orchestration.ContextProvider.
func (c *Controller) Context(_ context.Context, inst orchestration.Instance) (any, error) {
	w, ok := inst.(*models.Website)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", models.KindWebsite, inst.Kind())
	}
	return c.vhostContext(w, true)
}

func (c *Controller) vhostContext(w *models.Website, render bool) (*VHostContext, error) {
	s := c.settings
	vc := &VHostContext{
		Site:          w.UniqueName(),
		Banner:        orchestration.Banner(Backend),
		Active:        w.IsActive,
		IPs:           w.IPs,
		HTTP:          w.ServesHTTP(),
		HTTPS:         w.ServesHTTPS(),
		RedirectHTTPS: w.Protocol == models.ProtocolHTTPSOnly,
		DocumentRoot:  expand(s.DocumentRoot, w.Account, w.Name),
		AvailableDir:  s.SitesAvailable,
		Enable:        s.EnableCommand,
		Disable:       s.DisableCommand,
	}
	if len(vc.IPs) == 0 {
		vc.IPs = []string{"*"}
	}
	if len(w.Domains) > 0 {
		vc.ServerName = w.Domains[0]
		vc.Aliases = w.Domains[1:]
	}
	vc.AccessLog = path.Join(s.LogDir, vc.Site+".access.log")
	vc.ErrorLog = path.Join(s.LogDir, vc.Site+".error.log")
	vc.Path = path.Join(s.SitesAvailable, vc.Site+".conf")
	vc.EnabledPath = path.Join(s.SitesEnabled, vc.Site+".conf")

	if vc.HTTPS {
		if s.CertFile == "" || s.KeyFile == "" {
			return nil, fmt.Errorf("website %s serves https but no certificate is configured", w.Name)
		}
		vc.CertFile = expand(s.CertFile, w.Account, w.Name)
		vc.KeyFile = expand(s.KeyFile, w.Account, w.Name)
	}

	if render {
		if vc.ServerName == "" {
			return nil, fmt.Errorf("website %s has no domains", w.Name)
		}
		conf, err := vhostTmpl.Render(vc)
		if err != nil {
			return nil, err
		}
		vc.Conf = conf
	}
	return vc, nil
}

func (c *Controller) once(action orchestration.Action, site string) bool {
	key := string(action) + ":" + site
	if c.done[key] {
		return false
	}
	c.done[key] = true
	return true
}

// Save implements orchestration.ServiceController.
func (c *Controller) Save(_ context.Context, s *orchestration.Script, inst orchestration.Instance) error {
	w, ok := inst.(*models.Website)
	if !ok {
		return fmt.Errorf("expected %s, got %s", models.KindWebsite, inst.Kind())
	}
	if !c.once(orchestration.ActionSave, w.UniqueName()) {
		return nil
	}
	vc, err := c.vhostContext(w, true)
	if err != nil {
		return err
	}
	fragment, err := saveTmpl.Render(vc)
	if err != nil {
		return err
	}
	return s.Append(fragment)
}

// Delete implements orchestration.ServiceController.
func (c *Controller) Delete(_ context.Context, s *orchestration.Script, inst orchestration.Instance) error {
	w, ok := inst.(*models.Website)
	if !ok {
		return fmt.Errorf("expected %s, got %s", models.KindWebsite, inst.Kind())
	}
	if !c.once(orchestration.ActionDelete, w.UniqueName()) {
		return nil
	}
	vc, err := c.vhostContext(w, false)
	if err != nil {
		return err
	}
	fragment, err := deleteTmpl.Render(vc)
	if err != nil {
		return err
	}
	return s.Append(fragment)
}

// Commit implements orchestration.ServiceController.
func (c *Controller) Commit(_ context.Context, s *orchestration.Script) error {
	fragment, err := commitTmpl.Render(struct {
		ConfigTest string
		Reload     string
	}{c.settings.ConfigTestCommand, c.settings.ReloadCommand})
	if err != nil {
		return err
	}
	return s.Append(fragment)
}

// NewBackend returns the website backend. Domain changes propagate to the
// websites served for them.
func NewBackend(settings Settings, catalog *models.Catalog) *orchestration.Backend {
	return &orchestration.Backend{
		Name:        Backend,
		VerboseName: "Apache 2 website",
		Model:       models.KindWebsite,
		Related: []orchestration.RelatedModel{
			{Kind: models.KindDomain, Path: "website.domains", Resolve: catalog.WebsitesOfDomain},
		},
		Multiple:          true,
		DefaultRouteMatch: "True",
		NewController: func() orchestration.ServiceController {
			return NewController(settings)
		},
	}
}
