package models

import "fmt"

// State is the lifecycle stage of an installed package
type State int

const (
	StateNotInstalled State = iota
	StateHalfInstalled
	StateUnpacked
	StateHalfConfigured
	StateInstalled
	StateConfigFiles
)

var stateNames = []string{"not-installed", "half-installed", "unpacked", "half-configured", "installed", "config-files"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ParseState converts a status word back into a State
func ParseState(s string) (State, error) {
	for i, n := range stateNames {
		if n == s {
			return State(i), nil
		}
	}
	return StateNotInstalled, fmt.Errorf("unknown package state %q", s)
}

// Want is the requested selection of a package
type Want int

const (
	WantUnknown Want = iota
	WantInstall
	WantDeinstall
	WantPurge
)

var wantNames = []string{"unknown", "install", "deinstall", "purge"}

func (w Want) String() string {
	if int(w) < len(wantNames) {
		return wantNames[w]
	}
	return "unknown"
}

// ParseWant converts a status word back into a Want
func ParseWant(s string) (Want, error) {
	for i, n := range wantNames {
		if n == s {
			return Want(i), nil
		}
	}
	return WantUnknown, fmt.Errorf("unknown selection %q", s)
}

// InstalledRecord is the persisted installation state of one package name.
// Package points at the catalog entry when the same build is available,
// otherwise at the stanza read from the status file.
type InstalledRecord struct {
	Package       *PackageVersion
	Want          Want
	State         State
	Hold          bool
	AutoInstalled bool
	InstalledTime int64

	// Conffiles as installed; the only files left in state config-files
	Conffiles []Conffile
}

// Name returns the package name of the record
func (r *InstalledRecord) Name() string {
	return r.Package.Name
}

// Version returns the installed version
func (r *InstalledRecord) Version() string {
	return r.Package.Version
}

// Present reports whether the package's files are on disk in a usable state
func (r *InstalledRecord) Present() bool {
	return r.State == StateInstalled || r.State == StateUnpacked || r.State == StateHalfConfigured
}
