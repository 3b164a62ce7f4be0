package resolver

import (
	"errors"
	"sort"
	"strings"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/version"
	"github.com/sirupsen/logrus"
)

// Greedy picks the best candidate for every request and dependency in
// turn, backtracking only across the alternatives of a single dependency.
// Each requested package is resolved in its own savepoint, so one
// unsatisfiable request does not discard its siblings unless Combine is
// set.
type Greedy struct{}

// Name returns the configuration name of the strategy
func (g *Greedy) Name() string {
	return "greedy"
}

// Resolve computes the target set for req. On failure of individual
// targets the returned set holds the changes of the targets that did
// resolve, and the error joins every failure.
func (g *Greedy) Resolve(req *Request, cat *catalog.Catalog, db StatusView) (*TargetSet, error) {
	s := newState(cat, &req.Flags, req.Action, db)

	var steps []step
	switch req.Action {
	case ActionInstall:
		for _, t := range req.Targets {
			t := t
			steps = append(steps, step{t.String(), func(tx *state) error { return tx.install(t) }})
		}
	case ActionRemove:
		for _, t := range req.Targets {
			t := t
			steps = append(steps, step{t.String(), func(tx *state) error { return tx.remove(t) }})
		}
	case ActionUpgrade, ActionDistUpgrade:
		for _, name := range s.upgradeNames(req) {
			name := name
			steps = append(steps, step{name, func(tx *state) error { return tx.upgrade(name) }})
		}
	}

	var failures []error
	if req.Flags.Combine && len(steps) > 1 {
		labels := make([]string, 0, len(steps))
		for _, st := range steps {
			labels = append(labels, st.label)
		}
		logrus.Debugf("Resolving %s as a single transaction", strings.Join(labels, ", "))
		if err := s.run(func(tx *state) error {
			for _, st := range steps {
				if err := st.fn(tx); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			failures = append(failures, err)
		}
	} else {
		for _, st := range steps {
			if err := s.run(st.fn); err != nil {
				logrus.Debugf("Resolution of %s failed: %v", st.label, err)
				failures = append(failures, err)
			}
		}
	}

	if req.Flags.Autoremove {
		s.autoremove()
	}

	ts := newTargetSet()
	ts.Changes = s.changes
	for name := range s.manual {
		if _, ok := s.changes[name]; !ok || s.changes[name].To != nil {
			ts.Manual = append(ts.Manual, name)
		}
	}
	sort.Strings(ts.Manual)
	ts.Skipped = s.skipped

	return ts, errors.Join(failures...)
}

type step struct {
	label string
	fn    func(*state) error
}

// run applies fn in a savepoint and keeps its effects only when fn and the
// final consistency check both succeed
func (s *state) run(fn func(*state) error) error {
	tx := s.clone()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.validate(); err != nil {
		return err
	}
	s.adopt(tx)
	return nil
}

func (s *state) install(t Target) error {
	if t.Package != nil {
		return s.installCandidates(t.Package.Name, []*models.PackageVersion{t.Package}, true)
	}

	con := t.Constraint
	if !catalog.IsGlob(con.Name) {
		return s.installName(con, t.Pinned())
	}

	names := s.cat.Match(con.Name)
	if len(names) == 0 {
		return models.NewError(models.ErrUnknownPackage, con.Name, "no packages match %s", con.Name)
	}
	for _, name := range names {
		c := con
		c.Name = name
		if err := s.installName(c, t.Pinned()); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) installName(con models.Constraint, pinned bool) error {
	real := s.cat.Lookup(con.Name)
	if len(real) == 0 {
		return s.installVirtual(con)
	}

	var cands []*models.PackageVersion
	for _, p := range real {
		if version.Satisfies(p.Version, con.Op, con.Version) {
			cands = append(cands, p)
		}
	}
	if len(cands) == 0 {
		return models.NewError(models.ErrUnsatisfiable, con.Name, "no version of %s satisfies %s", con.Name, con)
	}
	return s.installCandidates(con.Name, cands, pinned)
}

// installVirtual handles a request naming a package known only through
// Provides. An installed provider satisfies the request as is.
func (s *state) installVirtual(con models.Constraint) error {
	provs := s.cat.Providers(con.Name)
	if len(provs) == 0 {
		return models.NewError(models.ErrUnknownPackage, con.Name, "unknown package '%s'", con.Name)
	}
	if con.Op != models.OpAny {
		return models.NewError(models.ErrUnsatisfiable, con.Name,
			"%s is a virtual package and cannot satisfy a versioned request", con.Name)
	}
	for _, name := range sortedNames(s.pkgs) {
		if s.pkgs[name].ProvidesName(con.Name) {
			logrus.Infof("%s is already provided by %s", con.Name, s.pkgs[name])
			return nil
		}
	}

	var lastErr error
	for _, p := range provs {
		if s.excluded(p.Name) {
			continue
		}
		tx := s.clone()
		if err := tx.choose(p, ReasonRequested, false); err != nil {
			lastErr = err
			continue
		}
		s.adopt(tx)
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return models.NewError(models.ErrUnsatisfiable, con.Name, "every provider of %s is excluded", con.Name)
}

func (s *state) installCandidates(name string, cands []*models.PackageVersion, pinned bool) error {
	if s.excluded(name) {
		return models.NewError(models.ErrUnsatisfiable, name, "package %s is excluded", name)
	}

	best := s.cat.Best(cands, s.flags.PreferArchToVersion)
	cur := s.pkgs[name]

	if cur == best && !s.halfDone(name) {
		s.manual[name] = true
		if !s.flags.ForceReinstall {
			logrus.Infof("Package %s (%s) installed in root is up to date.", name, cur.Version)
			return nil
		}
		s.setChange(name, best, ReasonRequested, false)
		return s.resolveDeps(best)
	}

	if cur != nil && s.held(name) && !pinned {
		return models.NewError(models.ErrHeldVersion, name,
			"package %s is held at version %s, not changing to %s", name, cur.Version, best.Version)
	}
	if cur != nil && version.Compare(best.Version, cur.Version) < 0 && !s.flags.ForceDowngrade {
		return models.NewError(models.ErrDowngrade, name,
			"not downgrading package %s from %s to %s", name, cur.Version, best.Version)
	}

	if err := s.choose(best, ReasonRequested, pinned); err != nil {
		return err
	}
	s.manual[name] = true
	return nil
}

// choose selects build p for its name and pulls in what it needs
func (s *state) choose(p *models.PackageVersion, reason Reason, pinned bool) error {
	cur := s.pkgs[p.Name]
	half := s.halfDone(p.Name) && reason == ReasonRequested
	if cur == p && !half {
		return nil
	}
	if cur != nil && cur != p && s.selected(p.Name) {
		return models.NewError(models.ErrUnsatisfiable, p.Name,
			"%s is needed while %s is already selected", p, cur)
	}
	if cur != nil && cur != p && s.held(p.Name) && !pinned {
		return models.NewError(models.ErrHeldVersion, p.Name,
			"package %s is held at version %s", p.Name, cur.Version)
	}
	if cur != nil && version.Compare(p.Version, cur.Version) < 0 && !s.flags.ForceDowngrade {
		return models.NewError(models.ErrDowngrade, p.Name,
			"not downgrading package %s from %s to %s", p.Name, cur.Version, p.Version)
	}

	if err := s.resolveConflicts(p); err != nil {
		return err
	}

	auto := reason == ReasonDependency || reason == ReasonRecommended
	if cur != nil && reason != ReasonRequested {
		auto = s.isAuto(p.Name)
	}
	ch := s.setChange(p.Name, p, reason, auto)
	ch.Replaces = s.replacedBy(p)

	if !s.flags.NoDeps {
		if err := s.resolveDeps(p); err != nil {
			return err
		}
	}

	if old := s.base[p.Name]; old != nil && old != p {
		s.pruneOrphans(old)
	}
	return nil
}

// resolveConflicts removes or rejects the packages conflicting with p
func (s *state) resolveConflicts(p *models.PackageVersion) error {
	var blocked []string
	for _, q := range s.conflictsWith(p) {
		if s.flags.ForceDepends {
			logrus.Warnf("Package %s conflicts with %s, ignoring due to force-depends", p, q)
			continue
		}

		var reason Reason
		switch {
		case replaces(p, q):
			reason = ReasonReplaced
		case s.orphanedBy(q, p):
			reason = ReasonOrphan
		case s.action == ActionDistUpgrade && !s.selected(q.Name):
			reason = ReasonConflict
		default:
			blocked = append(blocked, q.String())
			continue
		}

		if s.held(q.Name) {
			return models.NewError(models.ErrHeldVersion, q.Name,
				"%s conflicts with held package %s", p, q)
		}
		if q.Essential && !s.flags.ForceRemovalOfEssential {
			return models.NewError(models.ErrEssential, q.Name,
				"%s conflicts with essential package %s", p, q)
		}
		if s.selected(q.Name) {
			return models.NewError(models.ErrUnsatisfiable, p.Name,
				"%s conflicts with %s selected in the same transaction", p, q)
		}
		logrus.Debugf("Removing %s (%s) to make room for %s", q, reason, p)
		s.setChange(q.Name, nil, reason, false)
	}

	if len(blocked) > 0 {
		return models.NewError(models.ErrUnsatisfiable, p.Name,
			"following packages conflict with %s: %s", p.Name, strings.Join(blocked, ", "))
	}
	return nil
}

// orphanedBy reports whether q is an auto-installed package that only the
// installed build of p's name still needs, so upgrading p may drop it
func (s *state) orphanedBy(q, p *models.PackageVersion) bool {
	if !s.isAuto(q.Name) || s.changed(q.Name) {
		return false
	}
	if s.flags.OrphanPolicy != OrphanAggressive && s.action != ActionDistUpgrade {
		return false
	}
	for _, name := range s.requiredBy(q) {
		if name != p.Name {
			return false
		}
	}
	return true
}

// replacedBy lists the installed packages whose files p may take over
func (s *state) replacedBy(p *models.PackageVersion) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range []map[string]*models.PackageVersion{s.base, s.pkgs} {
		for _, name := range sortedNames(set) {
			if name == p.Name || seen[name] {
				continue
			}
			if replaces(p, set[name]) {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func (s *state) resolveDeps(p *models.PackageVersion) error {
	for _, g := range p.HardDepends() {
		if err := s.satisfy(p, g, ReasonDependency); err != nil {
			if s.flags.ForceDepends {
				logrus.Warnf("Cannot satisfy dependency %s of %s, ignoring due to force-depends", g, p)
				s.skipped = append(s.skipped, p.Name+": "+g.String())
				continue
			}
			return err
		}
	}

	if !s.flags.NoInstallRecommends {
		for _, g := range p.Recommends {
			g = s.recommendable(g)
			if len(g) == 0 {
				continue
			}
			if err := s.satisfy(p, g, ReasonRecommended); err != nil {
				logrus.Infof("Package %s recommends %s, skipped: %v", p.Name, g, err)
				s.skipped = append(s.skipped, p.Name+": "+g.String())
			}
		}
	}

	for _, g := range p.Suggests {
		if !satisfiedIn(s.pkgs, g) {
			logrus.Debugf("Package %s suggests installing %s", p.Name, g)
		}
	}
	return nil
}

// recommendable drops the alternatives of a Recommends group that are
// excluded or whose recommendation is ignored
func (s *state) recommendable(g models.Alternatives) models.Alternatives {
	var out models.Alternatives
	for _, c := range g {
		if s.excluded(c.Name) || s.recommendIgnored(c.Name) {
			logrus.Debugf("Skipping recommended package %s", c.Name)
			continue
		}
		out = append(out, c)
	}
	return out
}

// satisfy makes sure one alternative of g is part of the working set,
// trying each candidate in a savepoint
func (s *state) satisfy(p *models.PackageVersion, g models.Alternatives, reason Reason) error {
	if satisfiedIn(s.pkgs, g) {
		return nil
	}

	var lastErr error
	found := false
	for _, c := range g {
		for _, cand := range s.cat.Satisfiers(c, s.flags.PreferArchToVersion) {
			if s.excluded(cand.Name) {
				continue
			}
			found = true
			if cur := s.pkgs[cand.Name]; cur != nil && cur != cand && s.held(cand.Name) {
				lastErr = models.NewError(models.ErrHeldVersion, p.Name,
					"%s depends on %s, but %s is held at version %s", p.Name, c, cand.Name, cur.Version)
				continue
			}
			tx := s.clone()
			if err := tx.choose(cand, reason, false); err != nil {
				lastErr = err
				continue
			}
			s.adopt(tx)
			return nil
		}
	}

	if errors.Is(lastErr, models.Err(models.ErrHeldVersion)) {
		return lastErr
	}
	if !found {
		return models.NewError(models.ErrUnsatisfiable, p.Name,
			"cannot satisfy the following dependencies for %s: %s", p.Name, g)
	}
	return &models.OpkgError{Type: models.ErrUnsatisfiable, Package: p.Name, Err: lastErr}
}

// pruneOrphans removes the auto-installed packages old needed that nothing
// in the working set requires any more
func (s *state) pruneOrphans(old *models.PackageVersion) {
	if s.flags.OrphanPolicy != OrphanAggressive {
		return
	}
	groups := append(append([]models.Alternatives(nil), old.HardDepends()...), old.Recommends...)
	for _, g := range groups {
		for _, name := range sortedNames(s.pkgs) {
			q := s.pkgs[name]
			if q == nil || !references(g, q) || !s.collectable(q) {
				continue
			}
			if len(s.requiredBy(q)) > 0 {
				continue
			}
			logrus.Infof("Removing obsolete package %s", q)
			s.setChange(q.Name, nil, ReasonOrphan, false)
			s.pruneOrphans(q)
		}
	}
}

// collectable reports whether q may be removed without being asked for
func (s *state) collectable(q *models.PackageVersion) bool {
	if !s.isAuto(q.Name) || q.Essential || s.held(q.Name) {
		return false
	}
	c, ok := s.changes[q.Name]
	return !ok || c.Reason == ReasonUpgrade
}

func (s *state) upgradeNames(req *Request) []string {
	if req.Action == ActionDistUpgrade || len(req.Targets) == 0 {
		return sortedNames(s.base)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, t := range req.Targets {
		name := t.Constraint.Name
		matched := false
		for _, installed := range sortedNames(s.base) {
			p := s.base[installed]
			ok := installed == name
			if catalog.IsGlob(name) {
				ok = matchAny([]string{name}, installed)
			} else if !ok && p.ProvidesName(name) && s.cat.IsVirtual(name) {
				ok = true
			}
			if ok {
				matched = true
				add(installed)
			}
		}
		if !matched {
			logrus.Warnf("Package %s not installed.", name)
		}
	}
	return out
}

func (s *state) upgrade(name string) error {
	cur := s.pkgs[name]
	if cur == nil || s.base[name] != cur {
		// Removed or already changed earlier in this resolution
		return nil
	}
	if s.held(name) {
		logrus.Infof("Not upgrading package %s which is held", name)
		return nil
	}

	var cands []*models.PackageVersion
	for _, p := range s.cat.Lookup(name) {
		if !s.excluded(p.Name) {
			cands = append(cands, p)
		}
	}
	best := s.cat.Best(cands, s.flags.PreferArchToVersion)
	if best == nil || best == cur {
		return nil
	}
	switch c := version.Compare(best.Version, cur.Version); {
	case c < 0:
		logrus.Infof("Not downgrading package %s on root from %s to %s.", name, cur.Version, best.Version)
		return nil
	case c == 0:
		return nil
	}

	logrus.Infof("Upgrading %s on root from %s to %s...", name, cur.Version, best.Version)
	return s.choose(best, ReasonUpgrade, false)
}

func (s *state) remove(t Target) error {
	name := t.Constraint.Name
	if !catalog.IsGlob(name) {
		return s.removeName(name)
	}

	var names []string
	for _, n := range sortedNames(s.pkgs) {
		if matchAny([]string{name}, n) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		logrus.Warnf("No installed packages match %s", name)
		return nil
	}
	for _, n := range names {
		if err := s.removeName(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) removeName(name string) error {
	p := s.pkgs[name]
	if p == nil {
		if _, ok := s.records[name]; ok && !s.changed(name) {
			// Leftover of an interrupted transaction
			s.setChange(name, nil, ReasonRequested, false)
			return nil
		}
		logrus.Warnf("Package %s not installed.", name)
		return nil
	}
	return s.removePackage(p, ReasonRequested)
}

func (s *state) removePackage(p *models.PackageVersion, reason Reason) error {
	if p.Essential && (reason != ReasonRequested || !s.flags.ForceRemovalOfEssential) {
		return models.NewError(models.ErrEssential, p.Name,
			"refusing to remove essential package %s", p.Name)
	}
	s.setChange(p.Name, nil, reason, false)

	broken := s.brokenBy(p)
	if len(broken) == 0 {
		return nil
	}

	switch {
	case s.flags.ForceRemovalOfDependents:
		for _, name := range broken {
			q := s.pkgs[name]
			if q == nil {
				continue
			}
			logrus.Infof("Removing %s which depends on %s", q, p.Name)
			if err := s.removePackage(q, ReasonDependent); err != nil {
				return err
			}
		}
		return nil
	case s.flags.ForceDepends:
		logrus.Warnf("Removing package %s depended upon by: %s", p.Name, strings.Join(broken, ", "))
		return nil
	default:
		return models.NewError(models.ErrUnsatisfiable, p.Name,
			"package %s is depended upon by packages: %s", p.Name, strings.Join(broken, ", "))
	}
}

// validate rejects a working set in which a package is left with an unmet
// hard dependency that the installed state used to satisfy
func (s *state) validate() error {
	if s.flags.NoDeps || s.flags.ForceDepends {
		return nil
	}
	for _, name := range sortedNames(s.pkgs) {
		p := s.pkgs[name]
		changed := s.changed(name)
		for _, g := range p.HardDepends() {
			if satisfiedIn(s.pkgs, g) {
				continue
			}
			if changed || (s.base[name] == p && satisfiedIn(s.base, g)) {
				return models.NewError(models.ErrUnsatisfiable, name,
					"%s depends on %s, which the transaction leaves unsatisfied", p, g)
			}
		}
	}
	return nil
}
