package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/keenetic/opkg/internal/models"
)

// File is the parsed content of an opkg.conf file
type File struct {
	Options   map[string]interface{}
	Sources   []models.Source
	Dests     []models.Dest
	Arches    map[string]int
	ArchOrder []string
}

// ParseFile parses opkg.conf syntax:
//
//	src[/gz] <name> <url>
//	dest <name> <path>
//	arch <name> <priority>
//	option <key> [value]
func ParseFile(r io.Reader) (*File, error) {
	f := &File{
		Options: make(map[string]interface{}),
		Arches:  make(map[string]int),
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "src", "src/gz":
			if len(fields) < 3 {
				return nil, lineError(lineNo, "src needs a name and a URL")
			}
			f.Sources = append(f.Sources, models.Source{
				Name: fields[1],
				URL:  fields[2],
				Gzip: fields[0] == "src/gz",
			})
		case "dest":
			if len(fields) < 3 {
				return nil, lineError(lineNo, "dest needs a name and a path")
			}
			f.Dests = append(f.Dests, models.Dest{Name: fields[1], Path: fields[2]})
		case "arch":
			if len(fields) < 3 {
				return nil, lineError(lineNo, "arch needs a name and a priority")
			}
			prio, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, lineError(lineNo, fmt.Sprintf("invalid arch priority %q", fields[2]))
			}
			if _, seen := f.Arches[fields[1]]; !seen {
				f.ArchOrder = append(f.ArchOrder, fields[1])
			}
			f.Arches[fields[1]] = prio
		case "option":
			if len(fields) < 2 {
				return nil, lineError(lineNo, "option needs a name")
			}
			f.Options[fields[1]] = optionValue(fields[1], fields[2:])
		case "lists_dir":
			// Legacy form: lists_dir ext <path>
			f.Options["lists_dir"] = fields[len(fields)-1]
		default:
			return nil, lineError(lineNo, fmt.Sprintf("unknown directive %q", fields[0]))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// optionValue converts the tokens after an option key. A bare option is a
// true boolean; yes/no style words become booleans; "lists_dir ext <path>"
// keeps only the path.
func optionValue(key string, values []string) interface{} {
	if len(values) == 0 {
		return true
	}
	if key == "lists_dir" {
		return values[len(values)-1]
	}

	value := strings.Join(values, " ")
	switch strings.ToLower(value) {
	case "yes", "on", "true", "1":
		return true
	case "no", "off", "false", "0":
		return false
	}
	return value
}

func lineError(n int, msg string) error {
	return &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("line %d: %s", n, msg)}
}

// ParseArch parses an "arch:priority" command-line value
func ParseArch(s string) (string, int, error) {
	name, prio, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("invalid architecture %q, expected name:priority", s)
	}
	n, err := strconv.Atoi(prio)
	if err != nil {
		return "", 0, fmt.Errorf("invalid architecture priority in %q", s)
	}
	return name, n, nil
}
