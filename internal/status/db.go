// Package status persists installed-package records and file ownership.
package status

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/catalog"
	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	statusFile = "status"
	infoDir    = "info"
)

// Fields that belong to the feed or to the status record, not to the
// package's own control data
var recordFields = []string{"Status", "Auto-Installed", "Installed-Time", "Conffiles", "Filename", "Size", "MD5Sum", "SHA256sum"}

// DB is the on-disk status database. Every mutation is published
// immediately with a write-to-temp and rename.
type DB struct {
	fs      afero.Fs
	dir     string
	records map[string]*models.InstalledRecord
	files   map[string][]models.FileEntry
	owners  map[string]string
}

// Open loads the database rooted at dir. Installed packages are interned
// into cat when it is not nil.
func Open(fs afero.Fs, dir string, cat *catalog.Catalog) (*DB, error) {
	db := &DB{
		fs:      fs,
		dir:     dir,
		records: make(map[string]*models.InstalledRecord),
		files:   make(map[string][]models.FileEntry),
		owners:  make(map[string]string),
	}

	data, err := afero.ReadFile(fs, filepath.Join(dir, statusFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, &models.OpkgError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to read status: %w", err)}
	}

	stanzas, err := control.ReadStanzas(bytes.NewReader(data))
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Err: fmt.Errorf("corrupt status file: %w", err)}
	}

	for _, s := range stanzas {
		rec, err := parseRecord(s)
		if err != nil {
			logrus.Warnf("Ignoring status entry: %v", err)
			continue
		}
		if rec.State == models.StateNotInstalled {
			continue
		}
		if cat != nil {
			rec.Package = cat.Intern(rec.Package)
		}

		switch rec.State {
		case models.StateHalfInstalled, models.StateUnpacked, models.StateHalfConfigured:
			logrus.Warnf("Package %s is in state %s, reinstall or remove it", rec.Name(), rec.State)
		}

		db.records[rec.Name()] = rec
		if err := db.loadList(rec.Name()); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func parseRecord(s control.Stanza) (*models.InstalledRecord, error) {
	pkg, err := control.ToPackage(s.Without(recordFields...))
	if err != nil {
		return nil, err
	}

	rec := &models.InstalledRecord{Package: pkg, Want: models.WantInstall, State: models.StateInstalled}

	if status := strings.Fields(s.Get("Status")); len(status) == 3 {
		if rec.Want, err = models.ParseWant(status[0]); err != nil {
			return nil, err
		}
		rec.Hold = status[1] == "hold"
		if rec.State, err = models.ParseState(status[2]); err != nil {
			return nil, err
		}
	} else if len(status) != 0 {
		return nil, fmt.Errorf("%s: malformed Status %q", pkg.Name, s.Get("Status"))
	}

	if rec.Conffiles, err = control.ParseConffiles(s.Get("Conffiles")); err != nil {
		return nil, fmt.Errorf("%s: %w", pkg.Name, err)
	}
	rec.AutoInstalled = strings.EqualFold(s.Get("Auto-Installed"), "yes")
	if t := s.Get("Installed-Time"); t != "" {
		rec.InstalledTime, _ = strconv.ParseInt(t, 10, 64)
	}
	return rec, nil
}

func formatRecord(rec *models.InstalledRecord) control.Stanza {
	s := control.FromPackage(rec.Package).Without(recordFields...)

	flag := "ok"
	if rec.Hold {
		flag = "hold"
	}
	s = append(s, models.Field{Key: "Status", Value: fmt.Sprintf("%s %s %s", rec.Want, flag, rec.State)})
	if len(rec.Conffiles) > 0 {
		s = append(s, models.Field{Key: "Conffiles", Value: control.FormatConffiles(rec.Conffiles)})
	}
	if rec.InstalledTime != 0 {
		s = append(s, models.Field{Key: "Installed-Time", Value: strconv.FormatInt(rec.InstalledTime, 10)})
	}
	if rec.AutoInstalled {
		s = append(s, models.Field{Key: "Auto-Installed", Value: "yes"})
	}
	return s
}

// Get returns the record for name
func (db *DB) Get(name string) (*models.InstalledRecord, bool) {
	rec, ok := db.records[name]
	return rec, ok
}

// Installed returns every record sorted by name
func (db *DB) Installed() []*models.InstalledRecord {
	return sorted(db.records)
}

func sorted(records map[string]*models.InstalledRecord) []*models.InstalledRecord {
	out := make([]*models.InstalledRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// IsAutoInstalled reports whether name was installed only as a dependency
func (db *DB) IsAutoInstalled(name string) bool {
	rec, ok := db.records[name]
	return ok && rec.AutoInstalled
}

// Upsert inserts or replaces the record of rec's package
func (db *DB) Upsert(rec *models.InstalledRecord) error {
	return db.publish(db.with(rec.Name(), rec))
}

// SetState updates the lifecycle state of name
func (db *DB) SetState(name string, state models.State) error {
	return db.update(name, func(rec *models.InstalledRecord) { rec.State = state })
}

// SetHold sets or clears the hold flag of name
func (db *DB) SetHold(name string, hold bool) error {
	return db.update(name, func(rec *models.InstalledRecord) { rec.Hold = hold })
}

// Conffiles returns the conffiles recorded for name
func (db *DB) Conffiles(name string) []models.Conffile {
	if rec, ok := db.records[name]; ok {
		return rec.Conffiles
	}
	return nil
}

// SetConffiles records the conffiles of name. Packages without a record
// have nowhere to keep them and are left alone.
func (db *DB) SetConffiles(name string, conffiles []models.Conffile) error {
	if _, ok := db.records[name]; !ok {
		return nil
	}
	return db.update(name, func(rec *models.InstalledRecord) {
		rec.Conffiles = append([]models.Conffile(nil), conffiles...)
	})
}

// update applies fn to a copy of the record of name and publishes it
func (db *DB) update(name string, fn func(*models.InstalledRecord)) error {
	rec, ok := db.records[name]
	if !ok {
		return &models.OpkgError{Type: models.ErrUnknownPackage, Package: name, Err: fmt.Errorf("not installed")}
	}
	updated := *rec
	fn(&updated)
	return db.publish(db.with(name, &updated))
}

// with returns a copy of the records with name set to rec, or dropped
// when rec is nil
func (db *DB) with(name string, rec *models.InstalledRecord) map[string]*models.InstalledRecord {
	next := make(map[string]*models.InstalledRecord, len(db.records)+1)
	for n, r := range db.records {
		next[n] = r
	}
	if rec == nil {
		delete(next, name)
	} else {
		next[name] = rec
	}
	return next
}

// Remove drops the record, file list, ownership and info files of name.
// Paths another package also lists are handed over to it.
func (db *DB) Remove(name string) error {
	if _, ok := db.records[name]; !ok {
		return nil
	}
	if err := db.publish(db.with(name, nil)); err != nil {
		return err
	}

	for _, e := range db.files[name] {
		if db.owners[e.Path] != name {
			continue
		}
		delete(db.owners, e.Path)
		if other := db.Sharer(name, e.Path); other != "" {
			logrus.Debugf("Handing %s over to %s", e.Path, other)
			db.owners[e.Path] = other
		}
	}
	delete(db.files, name)
	return db.removeInfo(name)
}

// KeepConffiles turns the record of name into a config-files record
// holding only the conffiles left on disk
func (db *DB) KeepConffiles(name string, kept []models.Conffile) error {
	rec, ok := db.records[name]
	if !ok {
		return nil
	}

	updated := *rec
	updated.Want = models.WantDeinstall
	updated.State = models.StateConfigFiles
	updated.AutoInstalled = false
	updated.Conffiles = append([]models.Conffile(nil), kept...)
	if err := db.publish(db.with(name, &updated)); err != nil {
		return err
	}

	keep := make(map[string]bool, len(kept))
	for _, c := range kept {
		keep[c.Path] = true
	}
	var entries []models.FileEntry
	for _, e := range db.files[name] {
		if keep[e.Path] && db.owners[e.Path] == name {
			entries = append(entries, e)
		}
	}
	if err := db.SetFiles(name, entries); err != nil {
		return err
	}
	return db.removeScripts(name)
}

// publish writes records as the status file and adopts them once the
// write succeeded
func (db *DB) publish(records map[string]*models.InstalledRecord) error {
	var buf bytes.Buffer
	for _, rec := range sorted(records) {
		if err := control.Write(&buf, formatRecord(rec)); err != nil {
			return err
		}
	}

	if err := utils.AtomicWriteFile(db.fs, filepath.Join(db.dir, statusFile), buf.Bytes(), 0644); err != nil {
		return &models.OpkgError{Type: models.ErrFileOp, Err: fmt.Errorf("failed to write status: %w", err)}
	}
	db.records = records
	return nil
}
