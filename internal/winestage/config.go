package winestage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config holds raw KEY=VALUE settings from the config file, environment and flags.
type Config struct {
	Values map[string]string
}

// Settings is the resolved, typed configuration handed to every component.
// It is built once at startup; nothing downstream reads the environment.
type Settings struct {
	Name            string
	VersionOverride string
	Threads         int
	Debug           bool
	Verbose         bool
	Features        map[string]bool
	Win64           bool
	ConfigureFlags  []string
	SourceURL       string
	WorkDir         string
	SourceDir       string // empty means <WorkDir>/<Name>-<version>
	PatchDir        string
	LogDir          string
	InstallPrefix   string
	PatchStrip      int
	PatchFuzz       int
	Reuse           ReusePolicy
	NonInteractive  bool
	KeepRuns        int
	Mirror          MirrorSettings
}

// ReusePolicy decides what happens when a valid source tree is already present.
type ReusePolicy string

const (
	ReuseAsk    ReusePolicy = "ask"
	ReuseAlways ReusePolicy = "always"
	ReuseNever  ReusePolicy = "never"
)

const defaultSourceURL = "https://dl.winehq.org/wine/source/%SERIES%/%NAME%-%VERSION%.tar.xz"

// NewConfig returns an empty config.
func NewConfig() *Config {
	return &Config{Values: make(map[string]string)}
}

// loadConfig reads a KEY=VALUE file into cfg. A missing file is not an error.
func loadConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		cfg.Values[key] = val
	}
	return scanner.Err()
}

// LoadConfig loads the system file, the user file and WINESTAGE_* overrides.
// If explicit is set only that file is read.
func LoadConfig(explicit string) (*Config, error) {
	cfg := NewConfig()

	var paths []string
	if explicit != "" {
		paths = []string{explicit}
	} else {
		paths = []string{DefaultConfigFile}
		if dir, err := os.UserConfigDir(); err == nil {
			paths = append(paths, filepath.Join(dir, "winestage", "winestage.conf"))
		}
	}
	for _, p := range paths {
		if err := loadConfig(cfg, p); err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", p, err)
		}
	}

	mergeEnvOverrides(cfg, os.Environ())
	return cfg, nil
}

// Merge WINESTAGE_* env overrides
func mergeEnvOverrides(cfg *Config, environ []string) {
	for _, env := range environ {
		if strings.HasPrefix(env, "WINESTAGE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// Set stores a value, typically from a command-line flag.
func (c *Config) Set(key, value string) {
	c.Values[key] = value
}

func (c *Config) boolValue(key string, def bool) (bool, error) {
	raw, ok := c.Values[key]
	if !ok || raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return def, fmt.Errorf("%s: invalid boolean %q", key, raw)
}

func (c *Config) intValue(key string, def int) (int, error) {
	raw := c.Values[key]
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

// Settings resolves the raw values. host supplies the detected thread count and
// the container check for the install prefix default.
func (c *Config) Settings(host *Host) (*Settings, error) {
	s := &Settings{
		Name:            valueOr(c.Values["WINESTAGE_NAME"], "wine"),
		VersionOverride: strings.TrimSpace(c.Values["WINESTAGE_VERSION"]),
		SourceURL:       valueOr(c.Values["WINESTAGE_SOURCE_URL"], defaultSourceURL),
		SourceDir:       c.Values["WINESTAGE_SOURCE_DIR"],
		Features:        map[string]bool{},
		ConfigureFlags:  strings.Fields(c.Values["WINESTAGE_CONFIGURE_FLAGS"]),
	}

	if s.VersionOverride != "" {
		if _, err := ParseVersion(s.VersionOverride); err != nil {
			return nil, fmt.Errorf("WINESTAGE_VERSION: %w", err)
		}
	}

	var err error
	if s.Mirror, err = mirrorSettingsFromConfig(c); err != nil {
		return nil, err
	}
	if s.Debug, err = c.boolValue("WINESTAGE_DEBUG", false); err != nil {
		return nil, err
	}
	if s.Verbose, err = c.boolValue("WINESTAGE_VERBOSE", false); err != nil {
		return nil, err
	}
	if s.NonInteractive, err = c.boolValue("WINESTAGE_NONINTERACTIVE", false); err != nil {
		return nil, err
	}
	wayland, err := c.boolValue("WINESTAGE_WAYLAND", true)
	if err != nil {
		return nil, err
	}
	s.Features["wayland"] = wayland

	is64 := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	if s.Win64, err = c.boolValue("WINESTAGE_WIN64", is64); err != nil {
		return nil, err
	}

	threads := 1
	if host != nil {
		threads = host.ThreadCount()
	}
	if s.Threads, err = c.intValue("WINESTAGE_THREADS", threads); err != nil {
		return nil, err
	}
	if s.Threads < 1 {
		return nil, fmt.Errorf("WINESTAGE_THREADS: must be a positive integer, got %d", s.Threads)
	}
	if s.PatchStrip, err = c.intValue("WINESTAGE_PATCH_STRIP", 1); err != nil {
		return nil, err
	}
	if s.PatchFuzz, err = c.intValue("WINESTAGE_PATCH_FUZZ", 3); err != nil {
		return nil, err
	}
	if s.PatchStrip < 0 || s.PatchFuzz < 0 {
		return nil, fmt.Errorf("patch strip level and fuzz factor must not be negative")
	}
	if s.KeepRuns, err = c.intValue("WINESTAGE_KEEP_RUNS", 5); err != nil {
		return nil, err
	}

	switch p := ReusePolicy(strings.ToLower(valueOr(c.Values["WINESTAGE_REUSE"], string(ReuseAsk)))); p {
	case ReuseAsk, ReuseAlways, ReuseNever:
		s.Reuse = p
	default:
		return nil, fmt.Errorf("WINESTAGE_REUSE: expected ask, always or never, got %q", p)
	}

	s.WorkDir = c.Values["WINESTAGE_WORKDIR"]
	if s.WorkDir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine cache directory, set WINESTAGE_WORKDIR: %w", err)
		}
		s.WorkDir = filepath.Join(cache, "winestage")
	}
	s.PatchDir = valueOr(c.Values["WINESTAGE_PATCH_DIR"], filepath.Join(s.WorkDir, "patches"))
	s.LogDir = valueOr(c.Values["WINESTAGE_LOG_DIR"], filepath.Join(s.WorkDir, "logs"))

	s.InstallPrefix = c.Values["WINESTAGE_INSTALL_PREFIX"]
	if s.InstallPrefix == "" {
		marker := valueOr(c.Values["WINESTAGE_CONTAINER_MARKER"], "/run/host")
		s.InstallPrefix, err = defaultInstallPrefix(s.Name, marker)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// defaultInstallPrefix is user scoped unless a container root marker directory exists.
func defaultInstallPrefix(name, marker string) (string, error) {
	if marker != "" {
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return "/usr/local", nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory, set WINESTAGE_INSTALL_PREFIX: %w", err)
	}
	return filepath.Join(home, ".local", name), nil
}

// SourceDirFor returns the target tree path for a version.
func (s *Settings) SourceDirFor(v Version) string {
	if s.SourceDir != "" {
		return s.SourceDir
	}
	return filepath.Join(s.WorkDir, s.Name+"-"+v.String())
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
