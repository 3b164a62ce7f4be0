// Package version implements package version ordering and relational
// constraints.
package version

import (
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/models"
)

// Version is a parsed [epoch:]upstream[-revision] string
type Version struct {
	Epoch    int
	Upstream string
	Revision string
}

// Parse splits a version string into its components. A prefix before ':'
// is only an epoch when it is purely numeric.
func Parse(s string) Version {
	s = strings.TrimSpace(s)
	v := Version{}

	if i := strings.IndexByte(s, ':'); i > 0 {
		if epoch, err := strconv.Atoi(s[:i]); err == nil {
			v.Epoch = epoch
			s = s[i+1:]
		}
	}

	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		v.Upstream = s[:i]
		v.Revision = s[i+1:]
	} else {
		v.Upstream = s
	}

	return v
}

func (v Version) String() string {
	var b strings.Builder
	if v.Epoch != 0 {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.Revision != "" {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// Compare returns -1, 0 or 1 as a is older than, equal to or newer than b
func Compare(a, b string) int {
	return CompareVersions(Parse(a), Parse(b))
}

// CompareVersions orders two parsed versions
func CompareVersions(a, b Version) int {
	if a.Epoch != b.Epoch {
		if a.Epoch < b.Epoch {
			return -1
		}
		return 1
	}
	if r := verrevcmp(a.Upstream, b.Upstream); r != 0 {
		return r
	}
	return verrevcmp(a.Revision, b.Revision)
}

// Satisfies reports whether version v meets "op ref"
func Satisfies(v string, op models.Operator, ref string) bool {
	if op == models.OpAny {
		return true
	}

	r := Compare(v, ref)
	switch op {
	case models.OpEqual:
		return r == 0
	case models.OpEarlier:
		return r < 0
	case models.OpEarlierEqual:
		return r <= 0
	case models.OpLaterEqual:
		return r >= 0
	case models.OpLater:
		return r > 0
	default:
		return false
	}
}

// ParseOperator maps the textual operator to its Operator. The deprecated
// single-character forms "<" and ">" mean "<=" and ">=".
func ParseOperator(s string) (models.Operator, bool) {
	switch s {
	case "=", "==":
		return models.OpEqual, true
	case "<<":
		return models.OpEarlier, true
	case "<=", "<":
		return models.OpEarlierEqual, true
	case ">=", ">":
		return models.OpLaterEqual, true
	case ">>":
		return models.OpLater, true
	case "":
		return models.OpAny, true
	default:
		return models.OpAny, false
	}
}

// order ranks a single character: '~' before end of string, end of string
// before letters, letters before everything else.
func order(c byte) int {
	switch {
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

// verrevcmp compares alternating non-digit and digit runs. Non-digit runs
// compare character by character using order, digit runs numerically.
func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := 0, 0
			if i < len(a) {
				ac = order(a[i])
			}
			if j < len(b) {
				bc = order(b[j])
			}
			if ac != bc {
				return sign(ac - bc)
			}
			i++
			j++
		}

		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}

		firstDiff := 0
		for i < len(a) && isDigit(a[i]) && j < len(b) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			return sign(firstDiff)
		}
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
