package planner

import (
	"strings"
	"testing"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status map[string]*models.InstalledRecord

func (s status) Get(name string) (*models.InstalledRecord, bool) {
	rec, ok := s[name]
	return rec, ok
}

func (s status) Installed() []*models.InstalledRecord {
	var out []*models.InstalledRecord
	for _, name := range []string{"a", "b", "c", "d", "old", "x"} {
		if rec, ok := s[name]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func newCatalog(t *testing.T, index string) *catalog.Catalog {
	t.Helper()
	stanzas, err := control.ReadStanzas(strings.NewReader(index))
	require.NoError(t, err)
	cat := catalog.New(map[string]int{"all": 1})
	cat.AddStanzas("test", stanzas)
	return cat
}

func actions(p *Plan) []string {
	var out []string
	for _, a := range p.Actions {
		out = append(out, a.Kind.String()+" "+a.Package.Name)
	}
	return out
}

func TestConfigureAfterDependencies(t *testing.T) {
	cat := newCatalog(t, `Package: a
Version: 1.0
Architecture: all
Depends: b

Package: b
Version: 1.0
Architecture: all
Depends: c

Package: c
Version: 1.0
Architecture: all
`)
	ts, err := (&resolver.Greedy{}).Resolve(&resolver.Request{
		Action:  resolver.ActionInstall,
		Targets: []resolver.Target{{Constraint: models.Constraint{Name: "a"}}},
	}, cat, status{})
	require.NoError(t, err)

	plan := Build(ts, Options{})
	assert.Equal(t, []string{
		"unpack c", "unpack b", "unpack a",
		"configure c", "configure b", "configure a",
	}, actions(plan))
	assert.Equal(t, []string{"install a 1.0", "install b 1.0", "install c 1.0"}, plan.Summary())
}

func TestDependencyCycle(t *testing.T) {
	cat := newCatalog(t, `Package: a
Version: 1.0
Architecture: all
Depends: b

Package: b
Version: 1.0
Architecture: all
Depends: a
`)
	ts, err := (&resolver.Greedy{}).Resolve(&resolver.Request{
		Action:  resolver.ActionInstall,
		Targets: []resolver.Target{{Constraint: models.Constraint{Name: "a"}}},
	}, cat, status{})
	require.NoError(t, err)

	plan := Build(ts, Options{})
	assert.Equal(t, []string{"unpack a", "unpack b", "configure a", "configure b"}, actions(plan))
}

func TestRemovalsAroundInstalls(t *testing.T) {
	cat := newCatalog(t, `Package: old
Version: 1.0
Architecture: all

Package: a
Version: 1.0
Architecture: all
Depends: b

Package: b
Version: 1.0
Architecture: all

Package: a
Version: 2.0
Architecture: all
Conflicts: old
Replaces: old
`)
	db := status{}
	for _, id := range []string{"old_1.0_all", "a_1.0_all", "b_1.0_all"} {
		pkg := cat.Get(id)
		db[pkg.Name] = &models.InstalledRecord{Package: pkg, State: models.StateInstalled}
	}
	db["b"].AutoInstalled = true

	ts, err := (&resolver.Greedy{}).Resolve(&resolver.Request{Action: resolver.ActionUpgrade}, cat, db)
	require.NoError(t, err)

	plan := Build(ts, Options{DownloadOnly: true})
	assert.True(t, plan.DownloadOnly)
	assert.Equal(t, []string{"remove old", "unpack a", "configure a", "remove b"}, actions(plan))
	assert.Len(t, plan.Installs(), 1)
	assert.False(t, plan.Combine)

	combined := Build(ts, Options{Combine: true})
	assert.True(t, combined.Combine)
	assert.Equal(t, actions(plan), actions(combined))
}

func TestDependentsRemovedFirst(t *testing.T) {
	cat := newCatalog(t, `Package: a
Version: 1.0
Architecture: all
Depends: b

Package: b
Version: 1.0
Architecture: all
`)
	db := status{}
	for _, id := range []string{"a_1.0_all", "b_1.0_all"} {
		pkg := cat.Get(id)
		db[pkg.Name] = &models.InstalledRecord{Package: pkg, State: models.StateInstalled}
	}

	ts, err := (&resolver.Greedy{}).Resolve(&resolver.Request{
		Action:  resolver.ActionRemove,
		Targets: []resolver.Target{{Constraint: models.Constraint{Name: "b"}}},
		Flags:   resolver.Flags{ForceRemovalOfDependents: true},
	}, cat, db)
	require.NoError(t, err)

	assert.Equal(t, []string{"remove a", "remove b"}, actions(Build(ts, Options{})))
}
