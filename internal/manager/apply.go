package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/keenetic/opkg/internal/archive"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/planner"
	"github.com/keenetic/opkg/internal/resolver"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// txn tracks the outcome of one plan while it is applied
type txn struct {
	plan     *planner.Plan
	failed   map[string]bool
	unpacked map[string]bool
	failures []error

	// Packages present once the plan is done, given the failures so far
	after map[string]*models.PackageVersion

	forceDepends bool
}

func (m *Manager) newTxn(plan *planner.Plan) *txn {
	t := &txn{
		plan:         plan,
		failed:       make(map[string]bool),
		unpacked:     make(map[string]bool),
		after:        make(map[string]*models.PackageVersion),
		forceDepends: m.opts.ForceDepends || m.opts.NoDeps,
	}
	for _, rec := range m.db.Installed() {
		if rec.Present() {
			t.after[rec.Name()] = rec.Package
		}
	}
	for _, a := range plan.Actions {
		if a.Change.IsRemoval() {
			delete(t.after, a.Change.Name)
		} else {
			t.after[a.Change.Name] = a.Change.To
		}
	}
	return t
}

// fail records err for ch and fails every install of the plan left
// without a hard dependency by it
func (t *txn) fail(ch *resolver.Change, err error) {
	t.failures = append(t.failures, err)
	t.failed[ch.Name] = true
	if ch.IsRemoval() {
		// The package stays
		t.after[ch.Name] = ch.From
		return
	}

	if ch.From != nil && !t.unpacked[ch.Name] {
		t.after[ch.Name] = ch.From
	} else {
		delete(t.after, ch.Name)
	}
	if t.forceDepends {
		return
	}

	for _, a := range t.plan.Installs() {
		dep := a.Change
		if t.failed[dep.Name] || !resolver.LosesDependency(dep.To, ch.To, t.after) {
			continue
		}
		logrus.Errorf("Not installing %s, its dependency %s failed", dep.To, ch.To)
		t.fail(dep, models.NewError(models.ErrUnsatisfiable, dep.Name,
			"%s depends on %s, which failed to install", dep.To, ch.To))
	}
}

func (t *txn) err() error {
	return errors.Join(t.failures...)
}

// apply executes plan against the install root. A package whose archive
// cannot be opened or whose files conflict is dropped before anything is
// changed, together with the packages depending on it and the removals
// made on its behalf. In a combined plan any such failure stops the whole
// plan.
func (m *Manager) apply(ctx context.Context, plan *planner.Plan) error {
	t := m.newTxn(plan)
	archives := make(map[string]*archive.Package)

	removed := make(map[string]bool)
	for _, a := range plan.Actions {
		if a.Kind == planner.KindRemove {
			removed[a.Change.Name] = true
		}
	}

	for _, a := range plan.Installs() {
		if t.failed[a.Change.Name] {
			continue
		}
		pkg, err := m.source.Open(a.Package)
		if err != nil {
			t.fail(a.Change, err)
			continue
		}
		archives[a.Change.Name] = pkg

		if conflicts := m.conflicts(a.Change, pkg, removed); len(conflicts) > 0 {
			t.fail(a.Change, m.conflictError(a.Change, conflicts))
		}
	}

	if plan.DownloadOnly {
		for _, a := range plan.Installs() {
			if pkg, ok := archives[a.Change.Name]; ok {
				logrus.Infof("Package %s is available at %s", a.Package, pkg.Path)
			}
		}
		return t.err()
	}

	if plan.Combine && len(t.failed) > 0 {
		logrus.Errorf("Not applying the combined transaction, nothing was changed")
		return t.err()
	}

	// Removals that only made room for a failed package are dropped
	skip := make(map[string]bool)
	for _, a := range plan.Installs() {
		if t.failed[a.Change.Name] {
			for _, r := range a.Change.Replaces {
				skip[r] = true
			}
		}
	}

	for _, name := range plan.Manual {
		if err := m.markManual(name); err != nil {
			t.failures = append(t.failures, err)
		}
	}

	for _, a := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return errors.Join(t.err(), err)
		}

		name := a.Change.Name
		var err error
		switch a.Kind {
		case planner.KindRemove:
			if skip[name] && a.Change.Reason != resolver.ReasonRequested {
				logrus.Infof("Not removing %s, its replacement was not installed", name)
				t.after[name] = a.Change.From
				continue
			}
			err = m.removePackage(ctx, a.Change)
		case planner.KindUnpack:
			if t.failed[name] {
				continue
			}
			err = m.unpack(ctx, a.Change, archives[name])
			if err == nil {
				t.unpacked[name] = true
			}
		case planner.KindConfigure:
			if t.failed[name] {
				continue
			}
			err = m.configure(ctx, a.Change, archives[name])
		}
		if err != nil {
			logrus.Errorf("%v", err)
			t.fail(a.Change, err)
		}
	}

	return t.err()
}

// conflicts checks the manifest of an install against the current root,
// ignoring paths held by packages the plan removes first
func (m *Manager) conflicts(ch *resolver.Change, pkg *archive.Package, removed map[string]bool) []string {
	var out []string
	for _, c := range m.rec.Check(ch.Name, ch.Replaces, pkg.Manifest()) {
		if c.Owner != "" && removed[c.Owner] {
			continue
		}
		if c.Owner != "" {
			out = append(out, fmt.Sprintf("%s is already provided by package %s", c.Path, c.Owner))
		} else {
			out = append(out, fmt.Sprintf("%s already exists", c.Path))
		}
	}
	return out
}

func (m *Manager) conflictError(ch *resolver.Change, lines []string) error {
	msg := fmt.Sprintf("package %s wants to install files that conflict:", ch.To)
	for _, l := range lines {
		msg += "\n\t" + l
	}
	return &models.OpkgError{Type: models.ErrFileConflict, Package: ch.Name, Err: errors.New(msg)}
}

func (m *Manager) markManual(name string) error {
	rec, ok := m.db.Get(name)
	if !ok || !rec.AutoInstalled {
		return nil
	}
	logrus.Debugf("Marking %s as explicitly installed", name)
	updated := *rec
	updated.AutoInstalled = false
	return m.db.Upsert(&updated)
}

func (m *Manager) unpack(ctx context.Context, ch *resolver.Change, pkg *archive.Package) error {
	name := ch.Name
	prev, had := m.db.Get(name)

	args := []string{"install"}
	switch {
	case ch.From == nil:
		logrus.Infof("Installing %s to %s...", ch.To, m.opts.OfflineRoot)
	case ch.Reinstall:
		logrus.Infof("Reinstalling %s on %s...", ch.To, m.opts.OfflineRoot)
		args = []string{"upgrade", ch.From.Version}
	default:
		logrus.Infof("Upgrading %s on %s from %s to %s...", name, m.opts.OfflineRoot, ch.From.Version, ch.To.Version)
		args = []string{"upgrade", ch.From.Version}
	}

	if err := m.hooks.Run(ctx, name, "preinst", pkg.Scripts["preinst"], args...); err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: err}
	}

	rec := &models.InstalledRecord{
		Package:       ch.To,
		Want:          models.WantInstall,
		State:         models.StateHalfInstalled,
		AutoInstalled: ch.AutoInstalled,
		InstalledTime: time.Now().Unix(),
	}
	if had {
		rec.Hold = prev.Hold
		rec.Conffiles = prev.Conffiles
	}
	if err := m.db.Upsert(rec); err != nil {
		return err
	}

	if err := m.rec.Install(name, ch.Replaces, pkg); err != nil {
		if errors.Is(err, models.Err(models.ErrFileConflict)) {
			// Nothing was written
			m.restore(name, prev, had)
		}
		return err
	}
	if err := m.db.SaveInfo(ch.To, pkg.Scripts); err != nil {
		return err
	}
	return m.db.SetState(name, models.StateUnpacked)
}

func (m *Manager) restore(name string, prev *models.InstalledRecord, had bool) {
	var err error
	if had {
		err = m.db.Upsert(prev)
	} else {
		err = m.db.Remove(name)
	}
	if err != nil {
		logrus.Warnf("Failed to restore status of %s: %v", name, err)
	}
}

func (m *Manager) configure(ctx context.Context, ch *resolver.Change, pkg *archive.Package) error {
	logrus.Infof("Configuring %s.", ch.Name)
	if err := m.hooks.Run(ctx, ch.Name, "postinst", pkg.Scripts["postinst"], "configure"); err != nil {
		return &models.OpkgError{
			Type:    models.ErrPartialInstall,
			Package: ch.Name,
			Err:     fmt.Errorf("%s is left unpacked: %w", ch.To, err),
		}
	}
	return m.db.SetState(ch.Name, models.StateInstalled)
}

func (m *Manager) removePackage(ctx context.Context, ch *resolver.Change) error {
	name := ch.Name
	logrus.Infof("Removing package %s from %s...", name, m.opts.OfflineRoot)

	if err := m.hooks.Run(ctx, name, "prerm", m.script(name, "prerm"), "remove"); err != nil {
		if !m.opts.ForceRemove {
			return &models.OpkgError{Type: models.ErrFileOp, Package: name, Err: fmt.Errorf("not removing %s: %w", name, err)}
		}
		logrus.Warnf("Ignoring failed prerm of %s: %v", name, err)
	}
	postrm := m.script(name, "postrm")
	kept := m.rec.ModifiedConffiles(name)

	if err := m.rec.Remove(name); err != nil {
		return err
	}
	if err := m.hooks.Run(ctx, name, "postrm", postrm, "remove"); err != nil {
		logrus.Warnf("%v", err)
	}
	if len(kept) > 0 {
		logrus.Infof("Keeping %d modified conffile(s) of %s", len(kept), name)
		return m.db.KeepConffiles(name, kept)
	}
	return m.db.Remove(name)
}

// script reads a stored maintainer script, or returns nil when the
// package has none
func (m *Manager) script(name, script string) []byte {
	path := m.db.ScriptPath(name, script)
	if path == "" {
		return nil
	}
	body, err := afero.ReadFile(m.fs, path)
	if err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to read %s: %v", path, err)
	}
	return body
}
