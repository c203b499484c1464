// Package raceconfig loads the runtime configuration spec.md §4.3 and §4.2
// describe as a struct of options, replacing the source's compile-time
// `#define` flags with a JSONC-configured value (spec.md §9, "option
// explosion → configuration struct").
package raceconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".racekeeper.json"

// Config holds every racekeeper option spec.md names.
type Config struct {
	// Storage
	StorageRoot string `json:"storage_root"`

	// Lock Manager (spec.md §4.2, §5)
	MaxSecondsWaitForLock int `json:"max_seconds_wait_for_lock"`
	LockOptimizeSeconds   int `json:"lock_optimize_seconds"`

	// Naming / case policy, shared by SFV Ingest and the Racedata
	// Journal's uniqueness invariant (spec.md §3).
	Lowercase bool `json:"lowercase"`

	// SFV Ingest (spec.md §4.3)
	SfvCleanup             bool     `json:"sfv_cleanup"`
	SfvCleanupComments     bool     `json:"sfv_cleanup_comments"`
	SfvCleanupCRLF         bool     `json:"sfv_cleanup_crlf"`
	SfvCleanupLowercase    bool     `json:"sfv_cleanup_lowercase"`
	SfvDupecheck           bool     `json:"sfv_dupecheck"`
	AllowSlashInSfv        bool     `json:"allow_slash_in_sfv"`
	SfvCalcSingleFname     bool     `json:"sfv_calc_single_fname"`
	CreateMissingSfv       bool     `json:"create_missing_sfv"`
	CreateMissingFiles     bool     `json:"create_missing_files"`
	SfvLenient             bool     `json:"sfv_lenient"`
	IgnoredTypes           []string `json:"ignored_types"`
	AllowedTypes           []string `json:"allowed_types"`
	AllowedTypesExemptions []string `json:"allowed_types_exemption_dirs"`
	AudioTypes             []string `json:"audio_types"`
	VideoTypes             []string `json:"video_types"`

	// External collaborators (spec.md §6)
	UndupeCmd string `json:"undupe_cmd"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string        `json:"-"`
	Sources      ConfigSources `json:"-"`
}

// ConfigSources tracks which config files were loaded, for diagnostics.
type ConfigSources struct {
	Global  string
	Project string
}

// MaxWait and LockOptimize convert the serialized second counts to
// time.Duration for internal/lockmgr.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.MaxSecondsWaitForLock) * time.Second
}

func (c Config) LockOptimize() time.Duration {
	return time.Duration(c.LockOptimizeSeconds) * time.Second
}

// DefaultConfig returns the configuration used when no config file is
// present and no CLI override is given.
func DefaultConfig() Config {
	return Config{
		StorageRoot:           ".racekeeper",
		MaxSecondsWaitForLock: 5,
		LockOptimizeSeconds:   0,
		IgnoredTypes:          []string{"nfo", "sfv"},
		AllowedTypes:          nil,
		AudioTypes:            []string{"mp3", "flac", "m4a", "ogg", "wav"},
		VideoTypes:            []string{"mkv", "avi", "mp4", "wmv", "vob", "iso"},
	}
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride   string
	ConfigPath        string
	StorageRootOverride string
	Env               map[string]string
}

// Load loads configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/racekeeper/config.json or
//     ~/.config/racekeeper/config.json)
//  3. Project config: the explicit file at input.ConfigPath if given,
//     otherwise .racekeeper.json in the working directory (never both)
//  4. CLI overrides
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("raceconfig: cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobalConfig(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if input.StorageRootOverride != "" {
		cfg.StorageRoot = input.StorageRootOverride
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if !filepath.IsAbs(cfg.StorageRoot) {
		cfg.StorageRoot = filepath.Join(workDir, cfg.StorageRoot)
	}

	return cfg, nil
}

func getGlobalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "racekeeper", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "racekeeper", "config.json")
	}

	return ""
}

func loadGlobalConfig(env map[string]string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		cfgFile   string
		mustExist bool
	)

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// mergeConfig overlays non-zero fields of overlay onto base. Bool fields
// are merged in overlay-wins-if-true fashion, matching the source's
// additive flag semantics - a config layer can turn an option on but a
// later, more specific layer cannot turn it back off.
func mergeConfig(base, overlay Config) Config {
	if overlay.StorageRoot != "" {
		base.StorageRoot = overlay.StorageRoot
	}

	if overlay.MaxSecondsWaitForLock != 0 {
		base.MaxSecondsWaitForLock = overlay.MaxSecondsWaitForLock
	}

	if overlay.LockOptimizeSeconds != 0 {
		base.LockOptimizeSeconds = overlay.LockOptimizeSeconds
	}

	base.Lowercase = base.Lowercase || overlay.Lowercase
	base.SfvCleanup = base.SfvCleanup || overlay.SfvCleanup
	base.SfvCleanupComments = base.SfvCleanupComments || overlay.SfvCleanupComments
	base.SfvCleanupCRLF = base.SfvCleanupCRLF || overlay.SfvCleanupCRLF
	base.SfvCleanupLowercase = base.SfvCleanupLowercase || overlay.SfvCleanupLowercase
	base.SfvDupecheck = base.SfvDupecheck || overlay.SfvDupecheck
	base.AllowSlashInSfv = base.AllowSlashInSfv || overlay.AllowSlashInSfv
	base.SfvCalcSingleFname = base.SfvCalcSingleFname || overlay.SfvCalcSingleFname
	base.CreateMissingSfv = base.CreateMissingSfv || overlay.CreateMissingSfv
	base.CreateMissingFiles = base.CreateMissingFiles || overlay.CreateMissingFiles
	base.SfvLenient = base.SfvLenient || overlay.SfvLenient

	if len(overlay.IgnoredTypes) > 0 {
		base.IgnoredTypes = overlay.IgnoredTypes
	}

	if len(overlay.AllowedTypes) > 0 {
		base.AllowedTypes = overlay.AllowedTypes
	}

	if len(overlay.AllowedTypesExemptions) > 0 {
		base.AllowedTypesExemptions = overlay.AllowedTypesExemptions
	}

	if len(overlay.AudioTypes) > 0 {
		base.AudioTypes = overlay.AudioTypes
	}

	if len(overlay.VideoTypes) > 0 {
		base.VideoTypes = overlay.VideoTypes
	}

	if overlay.UndupeCmd != "" {
		base.UndupeCmd = overlay.UndupeCmd
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.StorageRoot == "" {
		return ErrStorageRootEmpty
	}

	if cfg.MaxSecondsWaitForLock <= 0 {
		return ErrMaxWaitInvalid
	}

	return nil
}
