// Package manager runs package operations end to end: it resolves a
// request, plans the transaction and applies it to the install root.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/keenetic/opkg/internal/archive"
	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/config"
	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/hooks"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/planner"
	"github.com/keenetic/opkg/internal/reconciler"
	"github.com/keenetic/opkg/internal/resolver"
	"github.com/keenetic/opkg/internal/signer"
	"github.com/keenetic/opkg/internal/status"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Manager holds the loaded state of one install root
type Manager struct {
	opts     *models.Options
	fs       afero.Fs
	cat      *catalog.Catalog
	db       *status.DB
	strategy resolver.Strategy
	source   *archive.Source
	rec      *reconciler.Reconciler
	hooks    hooks.Runner
}

// New loads the feed lists and the status database described by opts
func New(fs afero.Fs, opts *models.Options) (*Manager, error) {
	strategy, err := resolver.NewStrategy(opts.Solver)
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrInvalidConfig, Err: err}
	}

	cat := catalog.New(opts.Arches)
	if err := cat.LoadLists(fs, config.Path(opts, opts.ListsDir), opts.Sources); err != nil {
		return nil, err
	}

	db, err := status.Open(fs, config.Path(opts, opts.StatusDir), cat)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		opts:     opts,
		fs:       fs,
		cat:      cat,
		db:       db,
		strategy: strategy,
		source:   archive.NewSource(config.Path(opts, opts.CacheDir), opts.Sources),
		rec:      reconciler.New(fs, opts.OfflineRoot, db, reconciler.Options{ForceOverwrite: opts.ForceOverwrite}),
		hooks: hooks.NewShell(hooks.Options{
			Root:             opts.OfflineRoot,
			InterceptsDir:    opts.InterceptsDir,
			Enabled:          opts.Hooks,
			ForcePostinstall: opts.ForcePostinstall,
		}),
	}
	if err := m.forgetRemovedConffiles(); err != nil {
		return nil, err
	}
	return m, nil
}

// forgetRemovedConffiles drops config-files records once none of their
// conffiles is left on disk
func (m *Manager) forgetRemovedConffiles() error {
	for _, rec := range m.db.Installed() {
		if rec.State != models.StateConfigFiles {
			continue
		}
		left := false
		for _, c := range rec.Conffiles {
			if m.rec.Exists(c.Path) {
				left = true
				break
			}
		}
		if left {
			continue
		}
		logrus.Infof("Conffiles of %s are gone, forgetting the package", rec.Name())
		if err := m.db.Remove(rec.Name()); err != nil {
			return err
		}
	}
	return nil
}

// SetHooks replaces the maintainer script runner
func (m *Manager) SetHooks(r hooks.Runner) {
	m.hooks = r
}

// Catalog returns the loaded catalog
func (m *Manager) Catalog() *catalog.Catalog {
	return m.cat
}

// Status returns the status database
func (m *Manager) Status() *status.DB {
	return m.db
}

// Update refreshes the feed lists and reloads the catalog
func (m *Manager) Update(ctx context.Context) error {
	var verifier signer.Verifier
	if m.opts.CheckSignature {
		v, err := signer.NewKeyringVerifier(config.Path(m.opts, m.opts.SignatureKeyring))
		if err != nil {
			return &models.OpkgError{Type: models.ErrSignature, Err: err}
		}
		verifier = v
	}

	listsDir := config.Path(m.opts, m.opts.ListsDir)
	if err := m.fs.MkdirAll(listsDir, 0755); err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to create %s: %w", listsDir, err)}
	}
	updateErr := catalog.Update(m.fs, listsDir, m.opts.Sources, verifier)

	cat := catalog.New(m.opts.Arches)
	if err := cat.LoadLists(m.fs, listsDir, m.opts.Sources); err != nil {
		return errors.Join(updateErr, err)
	}
	db, err := status.Open(m.fs, config.Path(m.opts, m.opts.StatusDir), cat)
	if err != nil {
		return errors.Join(updateErr, err)
	}
	m.cat, m.db = cat, db
	m.rec = reconciler.New(m.fs, m.opts.OfflineRoot, db, reconciler.Options{ForceOverwrite: m.opts.ForceOverwrite})
	return updateErr
}

// Install installs or upgrades the named packages. Arguments are package
// names with an optional constraint ("a>=2.0", "b=1.0"), globs, or paths
// of package files.
func (m *Manager) Install(ctx context.Context, args []string) error {
	targets, err := m.targets(args, true)
	if err != nil {
		return err
	}
	return m.run(ctx, resolver.ActionInstall, targets)
}

// Remove removes the named packages
func (m *Manager) Remove(ctx context.Context, args []string) error {
	targets, err := m.targets(args, false)
	if err != nil {
		return err
	}
	return m.run(ctx, resolver.ActionRemove, targets)
}

// Upgrade upgrades the named installed packages, or all of them
func (m *Manager) Upgrade(ctx context.Context, args []string) error {
	targets, err := m.targets(args, false)
	if err != nil {
		return err
	}
	return m.run(ctx, resolver.ActionUpgrade, targets)
}

// DistUpgrade upgrades every installed package, removing conflicting
// packages where needed
func (m *Manager) DistUpgrade(ctx context.Context) error {
	return m.run(ctx, resolver.ActionDistUpgrade, nil)
}

func (m *Manager) targets(args []string, allowFiles bool) ([]resolver.Target, error) {
	targets := make([]resolver.Target, 0, len(args))
	for _, arg := range args {
		if allowFiles && archive.HasPackageExt(arg) {
			if ok, _ := afero.Exists(m.fs, arg); ok {
				t, err := m.localTarget(arg)
				if err != nil {
					return nil, err
				}
				targets = append(targets, t)
				continue
			}
		}

		con, err := control.ParseRequest(arg)
		if err != nil {
			return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: arg, Err: err}
		}
		targets = append(targets, resolver.Target{Constraint: con})
	}
	return targets, nil
}

// localTarget adds a package file named on the command line to the catalog
func (m *Manager) localTarget(path string) (resolver.Target, error) {
	stanza, err := archive.ReadControl(path)
	if err != nil {
		return resolver.Target{}, err
	}
	pkg, err := control.ToPackage(stanza)
	if err != nil {
		return resolver.Target{}, &models.OpkgError{Type: models.ErrPackageParse, Package: path, Err: err}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	pkg.LocalPath = path

	added, ok := m.cat.Add(pkg)
	if !ok {
		return resolver.Target{}, models.NewError(models.ErrUnsatisfiable, pkg.Name,
			"package %s has incompatible architecture %s", path, pkg.Architecture)
	}
	added.LocalPath = path
	logrus.Debugf("Using local package file %s for %s", path, added.ID())
	return resolver.Target{
		Constraint: models.Constraint{Name: added.Name, Op: models.OpEqual, Version: added.Version},
		Package:    added,
	}, nil
}

func (m *Manager) flags() (resolver.Flags, error) {
	policy, err := resolver.ParseOrphanPolicy(m.opts.OrphanPolicy)
	if err != nil {
		return resolver.Flags{}, &models.OpkgError{Type: models.ErrInvalidConfig, Err: err}
	}
	return resolver.Flags{
		ForceDepends:             m.opts.ForceDepends,
		ForceDowngrade:           m.opts.ForceDowngrade,
		ForceReinstall:           m.opts.ForceReinstall,
		ForceRemovalOfEssential:  m.opts.ForceRemovalOfEssential,
		ForceRemovalOfDependents: m.opts.ForceRemovalOfDependents,
		NoDeps:                   m.opts.NoDeps,
		NoInstallRecommends:      m.opts.NoInstallRecommends,
		PreferArchToVersion:      m.opts.PreferArchToVersion,
		Autoremove:               m.opts.Autoremove,
		Combine:                  m.opts.Combine,
		Exclude:                  m.opts.AddExclude,
		IgnoreRecommends:         m.opts.AddIgnoreRecommends,
		OrphanPolicy:             policy,
	}, nil
}

// run resolves and applies one request. Parts of the request that
// resolved are applied even when others failed; all failures are
// returned together.
func (m *Manager) run(ctx context.Context, action resolver.Action, targets []resolver.Target) error {
	flags, err := m.flags()
	if err != nil {
		return err
	}

	req := &resolver.Request{Action: action, Targets: targets, Flags: flags}
	ts, resolveErr := m.strategy.Resolve(req, m.cat, m.db)
	if ts == nil {
		return resolveErr
	}
	for _, s := range ts.Skipped {
		logrus.Warnf("Ignoring unsatisfied dependency %s", s)
	}

	plan := planner.Build(ts, planner.Options{DownloadOnly: m.opts.DownloadOnly, Combine: flags.Combine})
	if plan.Empty() {
		if resolveErr == nil && action != resolver.ActionRemove {
			logrus.Info("Nothing to do")
		}
		return resolveErr
	}

	return errors.Join(resolveErr, m.apply(ctx, plan))
}
