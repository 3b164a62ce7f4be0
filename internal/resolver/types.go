// Package resolver turns install, remove and upgrade requests into a
// target set of package changes.
package resolver

import (
	"fmt"
	"sort"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/models"
)

// Action is the kind of request being resolved
type Action int

const (
	ActionInstall Action = iota
	ActionRemove
	ActionUpgrade
	ActionDistUpgrade
)

func (a Action) String() string {
	switch a {
	case ActionRemove:
		return "remove"
	case ActionUpgrade:
		return "upgrade"
	case ActionDistUpgrade:
		return "dist-upgrade"
	default:
		return "install"
	}
}

// OrphanPolicy decides what happens to auto-installed dependencies an
// upgraded package no longer needs
type OrphanPolicy int

const (
	OrphanAggressive OrphanPolicy = iota
	OrphanConservative
)

// ParseOrphanPolicy maps the configuration value to an OrphanPolicy
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch s {
	case "", "aggressive":
		return OrphanAggressive, nil
	case "conservative":
		return OrphanConservative, nil
	default:
		return OrphanAggressive, fmt.Errorf("unknown orphan policy %q", s)
	}
}

// Flags are the user-selected relaxations and behaviours
type Flags struct {
	ForceDepends             bool
	ForceDowngrade           bool
	ForceReinstall           bool
	ForceRemovalOfEssential  bool
	ForceRemovalOfDependents bool
	NoDeps                   bool
	NoInstallRecommends      bool
	PreferArchToVersion      bool
	Autoremove               bool
	Combine                  bool
	Exclude                  []string
	IgnoreRecommends         []string
	OrphanPolicy             OrphanPolicy
}

// Target is one requested package. Name may be a glob for install and
// remove. Package is set when the request names a local package file.
type Target struct {
	Constraint models.Constraint
	Package    *models.PackageVersion
}

func (t Target) String() string {
	if t.Package != nil {
		return t.Package.ID()
	}
	if t.Constraint.Op == models.OpAny {
		return t.Constraint.Name
	}
	return fmt.Sprintf("%s%s%s", t.Constraint.Name, t.Constraint.Op, t.Constraint.Version)
}

// Pinned reports whether the target requests an exact version
func (t Target) Pinned() bool {
	return t.Constraint.Op == models.OpEqual
}

// Request is the input of a resolution
type Request struct {
	Action  Action
	Targets []Target
	Flags   Flags
}

// StatusView is the read side of the status database
type StatusView interface {
	Get(name string) (*models.InstalledRecord, bool)
	Installed() []*models.InstalledRecord
}

// Reason records why a change was selected
type Reason int

const (
	ReasonRequested Reason = iota
	ReasonDependency
	ReasonRecommended
	ReasonUpgrade
	ReasonReplaced
	ReasonConflict
	ReasonDependent
	ReasonOrphan
	ReasonAutoremove
)

func (r Reason) String() string {
	switch r {
	case ReasonDependency:
		return "dependency"
	case ReasonRecommended:
		return "recommended"
	case ReasonUpgrade:
		return "upgrade"
	case ReasonReplaced:
		return "replaced"
	case ReasonConflict:
		return "conflict"
	case ReasonDependent:
		return "dependent"
	case ReasonOrphan:
		return "orphan"
	case ReasonAutoremove:
		return "autoremove"
	default:
		return "requested"
	}
}

// Change is the decision for one package name. From is the installed build
// (nil for a new install), To the selected build (nil for a removal).
type Change struct {
	Name          string
	From          *models.PackageVersion
	To            *models.PackageVersion
	Reason        Reason
	AutoInstalled bool
	Reinstall     bool

	// Packages whose files To may take over without force-overwrite
	Replaces []string

	seq int
}

// IsRemoval reports whether the change uninstalls the package
func (c *Change) IsRemoval() bool {
	return c.To == nil
}

// Seq is the decision order of the change, used to break ties
func (c *Change) Seq() int {
	return c.seq
}

// TargetSet is the resolver output: a consistent set of changes relative
// to the installed state
type TargetSet struct {
	Changes map[string]*Change

	// Installed packages named explicitly that lose their Auto-Installed
	// flag without otherwise changing
	Manual []string

	// Soft or forced constraints left unsatisfied, as "pkg: constraint"
	Skipped []string
}

func newTargetSet() *TargetSet {
	return &TargetSet{Changes: make(map[string]*Change)}
}

// Empty reports whether nothing changes
func (ts *TargetSet) Empty() bool {
	return len(ts.Changes) == 0
}

// Sorted returns the changes in decision order
func (ts *TargetSet) Sorted() []*Change {
	out := make([]*Change, 0, len(ts.Changes))
	for _, c := range ts.Changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Strategy resolves requests. Implementations are selected by name from
// configuration.
type Strategy interface {
	Name() string
	Resolve(req *Request, cat *catalog.Catalog, db StatusView) (*TargetSet, error)
}

// NewStrategy returns the strategy registered under name
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", "greedy", "internal":
		return &Greedy{}, nil
	default:
		return nil, &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("unknown solver %q", name)}
	}
}
