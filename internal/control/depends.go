package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/version"
)

// ParseDependencies parses a Depends-style field: comma separated groups of
// "|" separated alternatives.
func ParseDependencies(s string) ([]models.Alternatives, error) {
	var groups []models.Alternatives

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var group models.Alternatives
		for _, alt := range strings.Split(part, "|") {
			c, err := ParseConstraint(alt)
			if err != nil {
				return nil, err
			}
			group = append(group, c)
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// ParseConstraintList parses a Conflicts/Replaces style field where each
// comma separated entry is a single constraint.
func ParseConstraintList(s string) ([]models.Constraint, error) {
	groups, err := ParseDependencies(s)
	if err != nil {
		return nil, err
	}

	var out []models.Constraint
	for _, g := range groups {
		out = append(out, g...)
	}
	return out, nil
}

// ParseProvides returns the virtual names of a Provides field. Version
// qualifiers are accepted and dropped.
func ParseProvides(s string) ([]string, error) {
	list, err := ParseConstraintList(s)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	return names, nil
}

// ParseConstraint parses "name", "name (op ver)", "name(op ver)" and the
// compact "nameopver" form.
func ParseConstraint(s string) (models.Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.Constraint{}, fmt.Errorf("empty dependency")
	}

	end := strings.IndexAny(s, " \t(<>=")
	if end < 0 {
		return models.Constraint{Name: stripArch(s)}, nil
	}

	c := models.Constraint{Name: stripArch(s[:end])}
	if c.Name == "" {
		return models.Constraint{}, fmt.Errorf("missing package name in %q", s)
	}

	rest := strings.TrimSpace(s[end:])
	if strings.HasPrefix(rest, "(") {
		if !strings.HasSuffix(rest, ")") {
			return models.Constraint{}, fmt.Errorf("unterminated version in %q", s)
		}
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}
	if rest == "" {
		return c, nil
	}

	opEnd := strings.IndexFunc(rest, func(r rune) bool {
		return r != '<' && r != '>' && r != '='
	})
	if opEnd <= 0 {
		return models.Constraint{}, fmt.Errorf("missing operator in %q", s)
	}

	op, ok := version.ParseOperator(rest[:opEnd])
	if !ok {
		return models.Constraint{}, fmt.Errorf("unknown operator %q in %q", rest[:opEnd], s)
	}
	c.Op = op
	c.Version = strings.TrimSpace(rest[opEnd:])
	if c.Version == "" {
		return models.Constraint{}, fmt.Errorf("missing version in %q", s)
	}

	return c, nil
}

// FormatDependencies renders groups back into field syntax
func FormatDependencies(groups []models.Alternatives) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = g.String()
	}
	return strings.Join(parts, ", ")
}

// FormatConstraints renders a Conflicts/Replaces list
func FormatConstraints(list []models.Constraint) string {
	parts := make([]string, len(list))
	for i, c := range list {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// ToPackage builds a PackageVersion from a control stanza
func ToPackage(s Stanza) (*models.PackageVersion, error) {
	pkg := &models.PackageVersion{
		Name:         s.Get("Package"),
		Version:      s.Get("Version"),
		Architecture: s.Get("Architecture"),
		Fields:       append([]models.Field(nil), s...),
	}

	if pkg.Name == "" {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Err: fmt.Errorf("missing Package field")}
	}
	if pkg.Version == "" {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: pkg.Name, Err: fmt.Errorf("missing Version field")}
	}

	var err error
	parse := func(key string, dst *[]models.Alternatives) {
		if err != nil {
			return
		}
		if v := s.Get(key); v != "" {
			*dst, err = ParseDependencies(v)
		}
	}
	parse("Pre-Depends", &pkg.PreDepends)
	parse("Depends", &pkg.Depends)
	parse("Recommends", &pkg.Recommends)
	parse("Suggests", &pkg.Suggests)

	if err == nil {
		pkg.Conflicts, err = ParseConstraintList(s.Get("Conflicts"))
	}
	if err == nil {
		pkg.Replaces, err = ParseConstraintList(s.Get("Replaces"))
	}
	if err == nil {
		pkg.Provides, err = ParseProvides(s.Get("Provides"))
	}
	if err != nil {
		return nil, &models.OpkgError{Type: models.ErrPackageParse, Package: pkg.Name, Err: err}
	}

	pkg.Essential = strings.EqualFold(s.Get("Essential"), "yes")
	pkg.Filename = s.Get("Filename")
	pkg.MD5Sum = s.Get("MD5Sum")
	pkg.SHA256Sum = s.Get("SHA256sum")
	if size := s.Get("Size"); size != "" {
		pkg.Size, _ = strconv.ParseInt(size, 10, 64)
	}

	return pkg, nil
}

// ParseRequest splits a command-line package argument such as "a",
// "a=1.0", "a>=2.0" or "a<<3" into a name (possibly a glob) and a
// constraint.
func ParseRequest(arg string) (models.Constraint, error) {
	i := strings.IndexAny(arg, "<>=")
	if i < 0 {
		return models.Constraint{Name: arg}, nil
	}
	if i == 0 {
		return models.Constraint{}, fmt.Errorf("missing package name in %q", arg)
	}

	j := i
	for j < len(arg) && strings.IndexByte("<>=", arg[j]) >= 0 {
		j++
	}

	op, ok := version.ParseOperator(arg[i:j])
	if !ok || j == len(arg) {
		return models.Constraint{}, fmt.Errorf("invalid version constraint in %q", arg)
	}

	return models.Constraint{Name: arg[:i], Op: op, Version: arg[j:]}, nil
}

func stripArch(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

// FromPackage returns the control stanza of pkg. Packages built in code
// without raw fields get one synthesized from their parsed values.
func FromPackage(pkg *models.PackageVersion) Stanza {
	if len(pkg.Fields) > 0 {
		return append(Stanza(nil), pkg.Fields...)
	}

	s := Stanza{
		{Key: "Package", Value: pkg.Name},
		{Key: "Version", Value: pkg.Version},
	}
	add := func(key, value string) {
		if value != "" {
			s = append(s, models.Field{Key: key, Value: value})
		}
	}
	add("Pre-Depends", FormatDependencies(pkg.PreDepends))
	add("Depends", FormatDependencies(pkg.Depends))
	add("Recommends", FormatDependencies(pkg.Recommends))
	add("Suggests", FormatDependencies(pkg.Suggests))
	add("Provides", strings.Join(pkg.Provides, ", "))
	add("Conflicts", FormatConstraints(pkg.Conflicts))
	add("Replaces", FormatConstraints(pkg.Replaces))
	if pkg.Essential {
		add("Essential", "yes")
	}
	add("Architecture", pkg.Architecture)
	return s
}

// ParseConffiles reads a Conffiles field, one "path md5" pair per line
func ParseConffiles(s string) ([]models.Conffile, error) {
	var out []models.Conffile
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		switch len(fields) {
		case 0:
			continue
		case 2:
			out = append(out, models.Conffile{Path: fields[0], MD5: fields[1]})
		default:
			return nil, fmt.Errorf("malformed Conffiles entry %q", strings.TrimSpace(line))
		}
	}
	return out, nil
}

// FormatConffiles renders conffiles as a multi-line field value
func FormatConffiles(list []models.Conffile) string {
	var b strings.Builder
	for _, c := range list {
		fmt.Fprintf(&b, "\n%s %s", c.Path, c.MD5)
	}
	return b.String()
}
