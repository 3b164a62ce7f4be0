package models

import (
	"fmt"
	"io/fs"
	"strings"
)

// Operator is a relational version operator used in dependency fields
type Operator string

const (
	OpAny          Operator = ""
	OpEqual        Operator = "="
	OpEarlier      Operator = "<<"
	OpEarlierEqual Operator = "<="
	OpLaterEqual   Operator = ">="
	OpLater        Operator = ">>"
)

// Constraint names a package, optionally restricted to a version range
type Constraint struct {
	Name    string
	Op      Operator
	Version string
}

func (c Constraint) String() string {
	if c.Op == OpAny {
		return c.Name
	}
	return fmt.Sprintf("%s (%s %s)", c.Name, c.Op, c.Version)
}

// Alternatives is an or-group of constraints ("a | b"); satisfying any member
// satisfies the group.
type Alternatives []Constraint

func (a Alternatives) String() string {
	parts := make([]string, len(a))
	for i, c := range a {
		parts[i] = c.String()
	}
	return strings.Join(parts, " | ")
}

// FileKind distinguishes manifest entries
type FileKind int

const (
	FileRegular FileKind = iota
	FileDir
	FileSymlink
)

func (k FileKind) String() string {
	switch k {
	case FileDir:
		return "dir"
	case FileSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// FileEntry is one record of a package's data manifest. Path is absolute
// relative to the install root ("/usr/bin/foo").
type FileEntry struct {
	Path   string
	Kind   FileKind
	Mode   fs.FileMode
	Target string
	Size   int64
}

// Conffile is a configuration file of an installed package with the MD5
// digest of the content the package shipped
type Conffile struct {
	Path string
	MD5  string
}

// Field is a single control field, kept in file order
type Field struct {
	Key   string
	Value string
}

// PackageVersion is one concrete (name, version, architecture) build of a
// package as described by its control stanza.
type PackageVersion struct {
	Name         string
	Version      string
	Architecture string

	PreDepends []Alternatives
	Depends    []Alternatives
	Recommends []Alternatives
	Suggests   []Alternatives
	Provides   []string
	Conflicts  []Constraint
	Replaces   []Constraint
	Essential  bool

	// Control fields in original order
	Fields []Field

	// Feed information
	Filename  string
	Size      int64
	MD5Sum    string
	SHA256Sum string
	Source    string

	// Set when the package comes from a file named on the command line
	LocalPath string
}

// ID returns the stable identifier of this build
func (p *PackageVersion) ID() string {
	return fmt.Sprintf("%s_%s_%s", p.Name, p.Version, p.Architecture)
}

func (p *PackageVersion) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Version)
}

// Field returns the value of a control field, or "" when absent
func (p *PackageVersion) Field(key string) string {
	for _, f := range p.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// SetField replaces or appends a control field
func (p *PackageVersion) SetField(key, value string) {
	for i, f := range p.Fields {
		if strings.EqualFold(f.Key, key) {
			p.Fields[i].Value = value
			return
		}
	}
	p.Fields = append(p.Fields, Field{Key: key, Value: value})
}

// ProvidesName reports whether the package answers to name, either as its own
// name or through its Provides list.
func (p *PackageVersion) ProvidesName(name string) bool {
	if p.Name == name {
		return true
	}
	for _, v := range p.Provides {
		if v == name {
			return true
		}
	}
	return false
}

// HardDepends returns Pre-Depends followed by Depends
func (p *PackageVersion) HardDepends() []Alternatives {
	if len(p.PreDepends) == 0 {
		return p.Depends
	}
	out := make([]Alternatives, 0, len(p.PreDepends)+len(p.Depends))
	out = append(out, p.PreDepends...)
	return append(out, p.Depends...)
}
