package manager

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/version"
	"github.com/sirupsen/logrus"
)

// Upgradable is an installed package with a newer candidate
type Upgradable struct {
	Name      string
	Installed string
	Available string
}

// Flags accepted by Flag
var flagNames = []string{"hold", "noprune", "user", "ok", "installed", "unpacked"}

func matches(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	if !catalog.IsGlob(pattern) {
		return pattern == name
	}
	ok, _ := path.Match(pattern, name)
	return ok
}

// ListInstalled returns the installed records matching pattern. Records
// left only for kept conffiles are not listed.
func (m *Manager) ListInstalled(pattern string) []*models.InstalledRecord {
	var out []*models.InstalledRecord
	for _, rec := range m.db.Installed() {
		if rec.State != models.StateConfigFiles && matches(pattern, rec.Name()) {
			out = append(out, rec)
		}
	}
	return out
}

// List returns the feed packages matching pattern, one per name and
// version, ordered by name then version
func (m *Manager) List(pattern string) []*models.PackageVersion {
	var out []*models.PackageVersion
	for _, name := range m.cat.Names() {
		if !matches(pattern, name) {
			continue
		}
		seen := make(map[string]bool)
		for _, p := range m.cat.Sort(m.cat.Lookup(name), false) {
			if p.Source == "" || seen[p.Version] {
				continue
			}
			seen[p.Version] = true
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return version.Compare(out[i].Version, out[j].Version) < 0
	})
	return out
}

// ListUpgradable returns installed packages that have a newer available
// version, held packages excluded
func (m *Manager) ListUpgradable(pattern string) []Upgradable {
	var out []Upgradable
	for _, rec := range m.ListInstalled(pattern) {
		if rec.Hold {
			continue
		}
		best := m.cat.Best(m.cat.Lookup(rec.Name()), m.opts.PreferArchToVersion)
		if best == nil || version.Compare(best.Version, rec.Version()) <= 0 {
			continue
		}
		out = append(out, Upgradable{Name: rec.Name(), Installed: rec.Version(), Available: best.Version})
	}
	return out
}

// Info returns the control stanzas of the packages matching pattern.
// Installed builds carry their status fields. A non-empty fields list
// keeps only those fields, plus Package. With shortDesc only the first
// line of Description is kept.
func (m *Manager) Info(pattern string, fields []string, shortDesc bool) ([]control.Stanza, error) {
	var out []control.Stanza
	for _, name := range m.cat.Names() {
		if !matches(pattern, name) {
			continue
		}
		rec, installed := m.db.Get(name)
		for _, p := range m.cat.Sort(m.cat.Lookup(name), false) {
			s := control.FromPackage(p).Without("Status", "Auto-Installed", "Installed-Time")
			if installed && rec.Package == p {
				s = append(s, recordFields(rec)...)
			}
			out = append(out, filterStanza(s, fields, shortDesc))
		}
	}
	if len(out) == 0 && !catalog.IsGlob(pattern) {
		return nil, models.NewError(models.ErrUnknownPackage, pattern, "unknown package %s", pattern)
	}
	return out, nil
}

// StatusOf returns the status stanzas of installed packages matching
// pattern
func (m *Manager) StatusOf(pattern string) []control.Stanza {
	var out []control.Stanza
	for _, rec := range m.db.Installed() {
		if !matches(pattern, rec.Name()) {
			continue
		}
		s := control.FromPackage(rec.Package).Without("Status", "Auto-Installed", "Installed-Time", "Filename", "Size", "MD5Sum", "SHA256sum")
		out = append(out, append(s, recordFields(rec)...))
	}
	return out
}

func recordFields(rec *models.InstalledRecord) []models.Field {
	flag := "ok"
	if rec.Hold {
		flag = "hold"
	}
	fields := []models.Field{{Key: "Status", Value: fmt.Sprintf("%s %s %s", rec.Want, flag, rec.State)}}
	if rec.AutoInstalled {
		fields = append(fields, models.Field{Key: "Auto-Installed", Value: "yes"})
	}
	if len(rec.Conffiles) > 0 {
		fields = append(fields, models.Field{Key: "Conffiles", Value: control.FormatConffiles(rec.Conffiles)})
	}
	if rec.InstalledTime != 0 {
		fields = append(fields, models.Field{Key: "Installed-Time", Value: strconv.FormatInt(rec.InstalledTime, 10)})
	}
	return fields
}

func filterStanza(s control.Stanza, fields []string, shortDesc bool) control.Stanza {
	var out control.Stanza
	for _, f := range s {
		if len(fields) > 0 && !strings.EqualFold(f.Key, "Package") && !containsFold(fields, f.Key) {
			continue
		}
		if shortDesc && strings.EqualFold(f.Key, "Description") {
			if i := strings.IndexByte(f.Value, '\n'); i >= 0 {
				f.Value = f.Value[:i]
			}
		}
		out = append(out, f)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Files returns the recorded file list of an installed package
func (m *Manager) Files(name string) ([]models.FileEntry, error) {
	if _, ok := m.db.Get(name); !ok {
		return nil, models.NewError(models.ErrUnknownPackage, name, "package %s is not installed", name)
	}
	return m.db.Files(name), nil
}

// Flag sets a status flag on installed packages:
//
//	hold      keep the installed version
//	noprune   accepted for compatibility, no effect
//	user      mark as explicitly installed
//	ok        clear hold
//	installed mark the package configured
//	unpacked  mark the package unpacked
func (m *Manager) Flag(flag string, names []string) error {
	flag = strings.ToLower(flag)
	if !containsFold(flagNames, flag) {
		return &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("unknown flag %q, expected one of %s", flag, strings.Join(flagNames, ", "))}
	}

	for _, name := range names {
		rec, ok := m.db.Get(name)
		if !ok {
			return models.NewError(models.ErrUnknownPackage, name, "package %s is not installed", name)
		}

		var err error
		switch flag {
		case "hold":
			err = m.db.SetHold(name, true)
		case "ok":
			err = m.db.SetHold(name, false)
		case "user":
			updated := *rec
			updated.AutoInstalled = false
			err = m.db.Upsert(&updated)
		case "installed":
			err = m.db.SetState(name, models.StateInstalled)
		case "unpacked":
			err = m.db.SetState(name, models.StateUnpacked)
		case "noprune":
		}
		if err != nil {
			return err
		}
		logrus.Infof("Setting %s flag on package %s.", flag, name)
	}
	return nil
}
