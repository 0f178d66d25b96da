package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigFile is the file name looked up inside each candidate
// configuration directory.
const DefaultConfigFile = "verlihub.yaml"

// candidateDirs returns the ordered fallback chain of configuration
// directories, evaluated lazily so that $HOME is read at call time.
func candidateDirs(home string) []string {
	dirs := make([]string, 0, 5)

	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "verlihub"))
		dirs = append(dirs, filepath.Join(home, ".verlihub"))
	}

	dirs = append(dirs, "./.verlihub")

	if v := os.Getenv("VERLIHUB_CFG"); v != "" {
		dirs = append(dirs, v)
	}

	dirs = append(dirs, "/etc/verlihub")

	return dirs
}

// DiscoverConfigDir walks the fallback chain from spec.md §6 and returns the
// first directory that exists. An explicit dir (from -d/--config-dir) always
// wins when non-empty. Returns "" if none of the candidates exist.
func DiscoverConfigDir(explicit string) string {
	if explicit != "" {
		return explicit
	}

	for _, dir := range candidateDirs(os.Getenv("HOME")) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	return ""
}
