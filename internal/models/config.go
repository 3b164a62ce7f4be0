package models

// Source is a package feed declared with src or src/gz
type Source struct {
	Name string
	URL  string
	Gzip bool
}

// Dest is an install destination declared with dest
type Dest struct {
	Name string
	Path string
}

// Options contains the effective configuration after all layers are merged
type Options struct {
	OfflineRoot string `koanf:"offline_root"`
	ConfFile    string `koanf:"conf_file"`
	Verbosity   int    `koanf:"verbosity"`

	// Layout
	ListsDir      string `koanf:"lists_dir"`
	StatusDir     string `koanf:"status_dir"`
	CacheDir      string `koanf:"cache_dir"`
	InterceptsDir string `koanf:"intercepts_dir"`

	// Behaviour
	Hooks            bool   `koanf:"hooks"`
	CheckSignature   bool   `koanf:"check_signature"`
	SignatureKeyring string `koanf:"signature_keyring"`
	Solver           string `koanf:"solver"`
	OrphanPolicy     string `koanf:"orphan_policy"`

	// Resolver and reconciler flags
	ForceDepends             bool     `koanf:"force_depends"`
	ForceDowngrade           bool     `koanf:"force_downgrade"`
	ForceReinstall           bool     `koanf:"force_reinstall"`
	ForceOverwrite           bool     `koanf:"force_overwrite"`
	ForceRemovalOfEssential  bool     `koanf:"force_removal_of_essential_packages"`
	ForceRemovalOfDependents bool     `koanf:"force_removal_of_dependent_packages"`
	ForceRemove              bool     `koanf:"force_remove"`
	ForcePostinstall         bool     `koanf:"force_postinstall"`
	NoDeps                   bool     `koanf:"nodeps"`
	NoInstallRecommends      bool     `koanf:"no_install_recommends"`
	PreferArchToVersion      bool     `koanf:"prefer_arch_to_version"`
	Autoremove               bool     `koanf:"autoremove"`
	Combine                  bool     `koanf:"combine"`
	DownloadOnly             bool     `koanf:"download_only"`
	AddExclude               []string `koanf:"add_exclude"`
	AddIgnoreRecommends      []string `koanf:"add_ignore_recommends"`

	// Declared in opkg.conf, not overridable through koanf
	Sources   []Source       `koanf:"-"`
	Dests     []Dest         `koanf:"-"`
	Arches    map[string]int `koanf:"-"`
	ArchOrder []string       `koanf:"-"`
}
