// Package config assembles the effective options from built-in defaults,
// opkg.conf, OPKG_* environment variables and command-line flags.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/keenetic/opkg/internal/models"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	// DefaultConfFile is the configuration path inside the install root
	DefaultConfFile = "/etc/opkg/opkg.conf"

	// EnvPrefix prefixes environment overrides, e.g. OPKG_FORCE_DEPENDS=1
	EnvPrefix = "OPKG_"
)

// Overrides carries the values given on the command line
type Overrides struct {
	OfflineRoot string
	ConfFile    string
	AddArch     []string

	// Flags the user set explicitly, keyed by option name
	Flags map[string]interface{}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"verbosity":         1,
		"lists_dir":         "/var/lib/opkg/lists",
		"status_dir":        "/var/lib/opkg",
		"cache_dir":         "/var/cache/opkg",
		"intercepts_dir":    "/usr/share/opkg/intercept",
		"hooks":             true,
		"check_signature":   false,
		"signature_keyring": "/etc/opkg/trusted.gpg",
		"solver":            "greedy",
		"orphan_policy":     "aggressive",
	}
}

// Load builds the effective options
func Load(fs afero.Fs, ov Overrides) (*models.Options, error) {
	root := ov.OfflineRoot
	if root == "" {
		root = "/"
	}

	confPath := ov.ConfFile
	explicit := confPath != ""
	if !explicit {
		confPath = filepath.Join(root, DefaultConfFile)
	}

	conf := &File{Options: map[string]interface{}{}, Arches: map[string]int{}}
	data, err := afero.ReadFile(fs, confPath)
	switch {
	case err == nil:
		if conf, err = ParseFile(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", confPath, err)
		}
	case os.IsNotExist(err) && !explicit:
		logrus.Debugf("No configuration file at %s, using defaults", confPath)
	default:
		return nil, &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("failed to read %s: %w", confPath, err)}
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(confmap.Provider(conf.Options, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", confPath, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if len(ov.Flags) > 0 {
		if err := k.Load(confmap.Provider(ov.Flags, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var opts models.Options
	if err := k.UnmarshalWithConf("", &opts, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("failed to decode options: %w", err)}
	}

	opts.OfflineRoot = root
	opts.ConfFile = confPath
	opts.AddExclude = splitList(opts.AddExclude)
	opts.AddIgnoreRecommends = splitList(opts.AddIgnoreRecommends)
	opts.Sources = conf.Sources
	opts.Dests = conf.Dests
	opts.Arches = conf.Arches
	opts.ArchOrder = conf.ArchOrder

	if len(opts.Arches) == 0 {
		opts.Arches = map[string]int{"all": 1, "noarch": 1, runtime.GOARCH: 10}
		opts.ArchOrder = []string{"all", "noarch", runtime.GOARCH}
	}
	for _, a := range ov.AddArch {
		name, prio, err := ParseArch(a)
		if err != nil {
			return nil, &models.OpkgError{Type: models.ErrInvalidConfig, Err: err}
		}
		if _, seen := opts.Arches[name]; !seen {
			opts.ArchOrder = append(opts.ArchOrder, name)
		}
		opts.Arches[name] = prio
	}

	if err := validate(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func validate(opts *models.Options) error {
	switch opts.OrphanPolicy {
	case "aggressive", "conservative":
	default:
		return &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("orphan_policy must be aggressive or conservative, got %q", opts.OrphanPolicy)}
	}
	return nil
}

// splitList expands comma separated entries, as they arrive from the
// environment
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Path joins a configured absolute path onto the install root
func Path(opts *models.Options, p string) string {
	return filepath.Join(opts.OfflineRoot, p)
}
