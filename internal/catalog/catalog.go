// Package catalog indexes the package versions available to the resolver.
package catalog

import (
	"path"
	"sort"
	"strings"

	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/version"
	"github.com/sirupsen/logrus"
)

// Catalog holds every known PackageVersion. Entries are shared by pointer;
// installed records reference them rather than copying.
type Catalog struct {
	packages  []*models.PackageVersion
	byID      map[string]*models.PackageVersion
	byName    map[string][]*models.PackageVersion
	providers map[string][]*models.PackageVersion
	arches    map[string]int
	order     map[*models.PackageVersion]int
}

// New creates an empty catalog accepting the given architectures with
// their priorities
func New(arches map[string]int) *Catalog {
	return &Catalog{
		byID:      make(map[string]*models.PackageVersion),
		byName:    make(map[string][]*models.PackageVersion),
		providers: make(map[string][]*models.PackageVersion),
		arches:    arches,
		order:     make(map[*models.PackageVersion]int),
	}
}

// Add inserts a package. Packages for unconfigured architectures are
// ignored. When the same build is already known the existing entry is
// returned.
func (c *Catalog) Add(pkg *models.PackageVersion) (*models.PackageVersion, bool) {
	if _, ok := c.arches[pkg.Architecture]; !ok {
		logrus.Debugf("Ignoring %s: architecture %q is not configured", pkg.ID(), pkg.Architecture)
		return nil, false
	}
	return c.insert(pkg), true
}

// Intern returns the catalog entry for the build of pkg, inserting pkg
// regardless of architecture when unknown. Used for installed packages,
// which stay visible even when their feed no longer lists them.
func (c *Catalog) Intern(pkg *models.PackageVersion) *models.PackageVersion {
	return c.insert(pkg)
}

func (c *Catalog) insert(pkg *models.PackageVersion) *models.PackageVersion {
	if existing, ok := c.byID[pkg.ID()]; ok {
		// A local file overrides the feed copy of the same build
		if pkg.LocalPath != "" {
			existing.LocalPath = pkg.LocalPath
		}
		return existing
	}

	c.order[pkg] = len(c.packages)
	c.packages = append(c.packages, pkg)
	c.byID[pkg.ID()] = pkg
	c.byName[pkg.Name] = append(c.byName[pkg.Name], pkg)
	for _, v := range pkg.Provides {
		if v != pkg.Name {
			c.providers[v] = append(c.providers[v], pkg)
		}
	}
	return pkg
}

// AddStanzas parses feed stanzas into the catalog, tagging them with the
// feed name. Malformed stanzas are skipped with a warning.
func (c *Catalog) AddStanzas(source string, stanzas []control.Stanza) int {
	added := 0
	for _, s := range stanzas {
		pkg, err := control.ToPackage(s)
		if err != nil {
			logrus.Warnf("Skipping malformed entry in %s: %v", source, err)
			continue
		}
		pkg.Source = source
		if _, ok := c.Add(pkg); ok {
			added++
		}
	}
	return added
}

// Get returns the package with the given identifier
func (c *Catalog) Get(id string) *models.PackageVersion {
	return c.byID[id]
}

// Lookup returns all versions of a real package name in catalog order
func (c *Catalog) Lookup(name string) []*models.PackageVersion {
	return c.byName[name]
}

// Providers returns the packages that list name in Provides, best first
func (c *Catalog) Providers(name string) []*models.PackageVersion {
	return c.Sort(c.providers[name], false)
}

// IsVirtual reports whether name is only known through Provides
func (c *Catalog) IsVirtual(name string) bool {
	return len(c.byName[name]) == 0 && len(c.providers[name]) > 0
}

// Satisfiers returns the packages able to satisfy constraint: real packages
// matching the version restriction, best first, followed by providers of
// the name when the constraint is unversioned.
func (c *Catalog) Satisfiers(con models.Constraint, preferArch bool) []*models.PackageVersion {
	var real []*models.PackageVersion
	for _, p := range c.byName[con.Name] {
		if version.Satisfies(p.Version, con.Op, con.Version) {
			real = append(real, p)
		}
	}
	out := c.Sort(real, preferArch)

	if con.Op == models.OpAny {
		out = append(out, c.Sort(c.providers[con.Name], preferArch)...)
	}
	return out
}

// Names returns every real package name, sorted
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match returns the real package names matching a shell glob, sorted
func (c *Catalog) Match(pattern string) []string {
	var out []string
	for _, name := range c.Names() {
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	return out
}

// ArchPriority returns the configured priority of arch, 0 when unknown
func (c *Catalog) ArchPriority(arch string) int {
	return c.arches[arch]
}

// Better reports whether a should be chosen over b. By default the higher
// version wins and architecture priority breaks ties; preferArch swaps the
// two criteria. Remaining ties go to the earlier catalog entry.
func (c *Catalog) Better(a, b *models.PackageVersion, preferArch bool) bool {
	vc := version.Compare(a.Version, b.Version)
	ac := c.ArchPriority(a.Architecture) - c.ArchPriority(b.Architecture)

	first, second := vc, ac
	if preferArch {
		first, second = ac, vc
	}
	if first != 0 {
		return first > 0
	}
	if second != 0 {
		return second > 0
	}
	return c.order[a] < c.order[b]
}

// Sort returns candidates ordered best first
func (c *Catalog) Sort(cands []*models.PackageVersion, preferArch bool) []*models.PackageVersion {
	out := append([]*models.PackageVersion(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		return c.Better(out[i], out[j], preferArch)
	})
	return out
}

// Best returns the preferred candidate, or nil
func (c *Catalog) Best(cands []*models.PackageVersion, preferArch bool) *models.PackageVersion {
	var best *models.PackageVersion
	for _, p := range cands {
		if best == nil || c.Better(p, best, preferArch) {
			best = p
		}
	}
	return best
}

// IsGlob reports whether s contains shell pattern characters
func IsGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
