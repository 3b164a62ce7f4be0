// Package planner orders a resolved target set into the actions of a
// transaction.
package planner

import (
	"fmt"
	"sort"

	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/resolver"
	"github.com/sirupsen/logrus"
)

// Kind is the type of a planned action
type Kind int

const (
	KindRemove Kind = iota
	KindUnpack
	KindConfigure
)

func (k Kind) String() string {
	switch k {
	case KindRemove:
		return "remove"
	case KindUnpack:
		return "unpack"
	case KindConfigure:
		return "configure"
	default:
		return "unknown"
	}
}

// Action is one step of a transaction. Package is the build being
// installed, or the installed build for a removal.
type Action struct {
	Kind    Kind
	Package *models.PackageVersion
	Change  *resolver.Change
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s", a.Kind, a.Package)
}

// Options carry the request flags that change how a plan is applied
type Options struct {
	DownloadOnly bool

	// Any failing install fails the whole plan
	Combine bool
}

// Plan is the ordered list of actions for a target set
type Plan struct {
	Actions      []Action
	DownloadOnly bool
	Combine      bool

	// Packages to mark as explicitly installed
	Manual []string
}

// Empty reports whether the plan does nothing
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0 && len(p.Manual) == 0
}

// Installs returns the unpack actions of the plan
func (p *Plan) Installs() []Action {
	var out []Action
	for _, a := range p.Actions {
		if a.Kind == KindUnpack {
			out = append(out, a)
		}
	}
	return out
}

// Build orders ts:
//  1. removals that make room for new packages (replaced, conflicting,
//     requested), dependents before what they depend on
//  2. unpacks, dependencies first
//  3. configures, in the same order
//  4. orphan removals
func Build(ts *resolver.TargetSet, opts Options) *Plan {
	plan := &Plan{DownloadOnly: opts.DownloadOnly, Combine: opts.Combine, Manual: ts.Manual}

	var early, late, installs []*resolver.Change
	for _, c := range ts.Sorted() {
		switch {
		case !c.IsRemoval():
			installs = append(installs, c)
		case c.Reason == resolver.ReasonOrphan || c.Reason == resolver.ReasonAutoremove:
			late = append(late, c)
		default:
			early = append(early, c)
		}
	}

	for _, c := range reverse(order(early, func(c *resolver.Change) *models.PackageVersion { return c.From })) {
		plan.Actions = append(plan.Actions, Action{Kind: KindRemove, Package: c.From, Change: c})
	}

	ordered := order(installs, func(c *resolver.Change) *models.PackageVersion { return c.To })
	for _, c := range ordered {
		plan.Actions = append(plan.Actions, Action{Kind: KindUnpack, Package: c.To, Change: c})
	}
	for _, c := range ordered {
		plan.Actions = append(plan.Actions, Action{Kind: KindConfigure, Package: c.To, Change: c})
	}

	for _, c := range reverse(order(late, func(c *resolver.Change) *models.PackageVersion { return c.From })) {
		plan.Actions = append(plan.Actions, Action{Kind: KindRemove, Package: c.From, Change: c})
	}

	for _, a := range plan.Actions {
		logrus.Debugf("Planned %s", a)
	}
	return plan
}

// order sorts changes so that every package comes after the packages it
// depends on. Ties and dependency cycles fall back to decision order.
func order(changes []*resolver.Change, pkg func(*resolver.Change) *models.PackageVersion) []*resolver.Change {
	n := len(changes)
	deps := make([][]int, n)
	indegree := make([]int, n)
	for i, a := range changes {
		for j, b := range changes {
			if i != j && resolver.DependsOn(pkg(a), pkg(b)) {
				// b before a
				deps[j] = append(deps[j], i)
				indegree[i]++
			}
		}
	}

	done := make([]bool, n)
	out := make([]*resolver.Change, 0, n)
	for len(out) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			// Cycle: take the earliest remaining decision
			for i := 0; i < n; i++ {
				if !done[i] {
					next = i
					break
				}
			}
			logrus.Debugf("Dependency cycle involving %s, ordering by request", changes[next].Name)
		}

		done[next] = true
		out = append(out, changes[next])
		for _, k := range deps[next] {
			indegree[k]--
		}
	}
	return out
}

func reverse(changes []*resolver.Change) []*resolver.Change {
	out := make([]*resolver.Change, len(changes))
	for i, c := range changes {
		out[len(changes)-1-i] = c
	}
	return out
}

// Summary lists the plan's package changes in name order, as
// "name old -> new" lines
func (p *Plan) Summary() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range p.Actions {
		c := a.Change
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		switch {
		case c.IsRemoval():
			out = append(out, fmt.Sprintf("remove %s %s", c.Name, c.From.Version))
		case c.From == nil:
			out = append(out, fmt.Sprintf("install %s %s", c.Name, c.To.Version))
		default:
			out = append(out, fmt.Sprintf("upgrade %s %s -> %s", c.Name, c.From.Version, c.To.Version))
		}
	}
	sort.Strings(out)
	return out
}
