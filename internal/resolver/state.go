package resolver

import (
	"path"
	"sort"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/version"
)

// state is the working view of a resolution: the installed set as it would
// look after the changes selected so far. Savepoints are plain copies.
type state struct {
	cat     *catalog.Catalog
	flags   *Flags
	action  Action
	records map[string]*models.InstalledRecord
	base    map[string]*models.PackageVersion

	pkgs    map[string]*models.PackageVersion
	changes map[string]*Change
	manual  map[string]bool
	skipped []string
	seq     *int
}

func newState(cat *catalog.Catalog, flags *Flags, action Action, db StatusView) *state {
	s := &state{
		cat:     cat,
		flags:   flags,
		action:  action,
		records: make(map[string]*models.InstalledRecord),
		base:    make(map[string]*models.PackageVersion),
		pkgs:    make(map[string]*models.PackageVersion),
		changes: make(map[string]*Change),
		manual:  make(map[string]bool),
		seq:     new(int),
	}
	for _, rec := range db.Installed() {
		s.records[rec.Name()] = rec
		if rec.Present() {
			s.base[rec.Name()] = rec.Package
			s.pkgs[rec.Name()] = rec.Package
		}
	}
	return s
}

func (s *state) clone() *state {
	c := *s
	c.pkgs = make(map[string]*models.PackageVersion, len(s.pkgs))
	for k, v := range s.pkgs {
		c.pkgs[k] = v
	}
	c.changes = make(map[string]*Change, len(s.changes))
	for k, v := range s.changes {
		cp := *v
		c.changes[k] = &cp
	}
	c.manual = make(map[string]bool, len(s.manual))
	for k, v := range s.manual {
		c.manual[k] = v
	}
	c.skipped = append([]string(nil), s.skipped...)
	return &c
}

func (s *state) adopt(o *state) {
	s.pkgs = o.pkgs
	s.changes = o.changes
	s.manual = o.manual
	s.skipped = o.skipped
}

// setChange records a decision for name, keeping the original installed
// build as From across repeated decisions
func (s *state) setChange(name string, to *models.PackageVersion, reason Reason, auto bool) *Change {
	from := s.base[name]
	if rec, ok := s.records[name]; ok && from == nil {
		// Half-installed leftovers are replaced like an installed build
		from = rec.Package
	}

	if to == nil {
		delete(s.pkgs, name)
		if from == nil {
			// Undo of a fresh install selected earlier in this resolution
			delete(s.changes, name)
			return nil
		}
	} else {
		s.pkgs[name] = to
	}

	*s.seq++
	c := &Change{Name: name, From: from, To: to, Reason: reason, AutoInstalled: auto, seq: *s.seq}
	if from != nil && to != nil && from == to {
		c.Reinstall = true
	}
	s.changes[name] = c
	return c
}

func (s *state) changed(name string) bool {
	_, ok := s.changes[name]
	return ok
}

// selected reports whether name already received a new build in this
// resolution
func (s *state) selected(name string) bool {
	c, ok := s.changes[name]
	return ok && c.To != nil
}

// isAuto reports the Auto-Installed flag name would carry
func (s *state) isAuto(name string) bool {
	if s.manual[name] {
		return false
	}
	if c, ok := s.changes[name]; ok && c.To != nil {
		return c.AutoInstalled
	}
	rec, ok := s.records[name]
	return ok && rec.AutoInstalled
}

// halfDone reports whether name has a record left by an interrupted
// transaction
func (s *state) halfDone(name string) bool {
	rec, ok := s.records[name]
	return ok && rec.State != models.StateInstalled
}

func (s *state) held(name string) bool {
	rec, ok := s.records[name]
	return ok && rec.Hold && rec.Present()
}

// matches reports whether p satisfies constraint c, directly or, for an
// unversioned constraint, through Provides
func matches(c models.Constraint, p *models.PackageVersion) bool {
	if p.Name == c.Name {
		return version.Satisfies(p.Version, c.Op, c.Version)
	}
	return c.Op == models.OpAny && p.ProvidesName(c.Name)
}

func satisfiedIn(set map[string]*models.PackageVersion, g models.Alternatives) bool {
	for _, c := range g {
		if p := set[c.Name]; p != nil && version.Satisfies(p.Version, c.Op, c.Version) {
			return true
		}
		if c.Op != models.OpAny {
			continue
		}
		for _, p := range set {
			if p.ProvidesName(c.Name) {
				return true
			}
		}
	}
	return false
}

func references(g models.Alternatives, p *models.PackageVersion) bool {
	for _, c := range g {
		if matches(c, p) {
			return true
		}
	}
	return false
}

// conflicts reports whether p declares a conflict with q
func conflicts(p, q *models.PackageVersion) bool {
	if p.Name == q.Name {
		return false
	}
	for _, c := range p.Conflicts {
		if matches(c, q) {
			return true
		}
	}
	return false
}

// replaces reports whether p declares that it replaces q
func replaces(p, q *models.PackageVersion) bool {
	for _, c := range p.Replaces {
		if matches(c, q) {
			return true
		}
	}
	return false
}

// conflictsWith returns the packages of the working set that conflict with
// p in either direction
func (s *state) conflictsWith(p *models.PackageVersion) []*models.PackageVersion {
	var out []*models.PackageVersion
	for _, name := range sortedNames(s.pkgs) {
		q := s.pkgs[name]
		if name == p.Name {
			continue
		}
		if conflicts(p, q) || conflicts(q, p) {
			out = append(out, q)
		}
	}
	return out
}

// requiredBy returns the packages whose Depends or Recommends mention p
func (s *state) requiredBy(p *models.PackageVersion) []string {
	var out []string
	for _, name := range sortedNames(s.pkgs) {
		q := s.pkgs[name]
		if name == p.Name {
			continue
		}
		if mentions(q, p) {
			out = append(out, name)
		}
	}
	return out
}

func mentions(q, p *models.PackageVersion) bool {
	for _, g := range q.HardDepends() {
		if references(g, p) {
			return true
		}
	}
	for _, g := range q.Recommends {
		if references(g, p) {
			return true
		}
	}
	return false
}

// brokenBy returns the packages left with an unsatisfied hard dependency
// that gone used to satisfy
func (s *state) brokenBy(gone *models.PackageVersion) []string {
	var out []string
	for _, name := range sortedNames(s.pkgs) {
		q := s.pkgs[name]
		for _, g := range q.HardDepends() {
			if references(g, gone) && !satisfiedIn(s.pkgs, g) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func (s *state) excluded(name string) bool {
	return matchAny(s.flags.Exclude, name)
}

func (s *state) recommendIgnored(name string) bool {
	return matchAny(s.flags.IgnoreRecommends, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func sortedNames(m map[string]*models.PackageVersion) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependsOn reports whether q can meet one of p's hard dependencies
func DependsOn(p, q *models.PackageVersion) bool {
	if p.Name == q.Name {
		return false
	}
	for _, g := range p.HardDepends() {
		if references(g, q) {
			return true
		}
	}
	return false
}

// LosesDependency reports whether q meets a hard dependency of p that no
// package in set satisfies
func LosesDependency(p, q *models.PackageVersion, set map[string]*models.PackageVersion) bool {
	if p.Name == q.Name {
		return false
	}
	for _, g := range p.HardDepends() {
		if references(g, q) && !satisfiedIn(set, g) {
			return true
		}
	}
	return false
}
