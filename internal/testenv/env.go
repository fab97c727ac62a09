package testenv

import "path/filepath"

// Dirs contains isolated directories for quotawatch config/data/cache in tests.
type Dirs struct {
	Base   string
	Config string
	Data   string
	Cache  string
}

// QuotaWatchDirs returns conventional test directories rooted at base.
func QuotaWatchDirs(base string) Dirs {
	return Dirs{
		Base:   base,
		Config: filepath.Join(base, "config"),
		Data:   filepath.Join(base, "data"),
		Cache:  filepath.Join(base, "cache"),
	}
}

// ApplyQuotaWatch sets QUOTAWATCH_* env vars to isolated test directories.
func ApplyQuotaWatch(setenv func(string, string), base string) Dirs {
	dirs := QuotaWatchDirs(base)
	setenv("QUOTAWATCH_CONFIG_DIR", dirs.Config)
	setenv("QUOTAWATCH_DATA_DIR", dirs.Data)
	setenv("QUOTAWATCH_CACHE_DIR", dirs.Cache)
	return dirs
}

// ApplySameDir points config/data/cache to the same directory.
// Useful in tests that expect ConfigDir() to exactly match a temp dir path.
func ApplySameDir(setenv func(string, string), dir string) {
	setenv("QUOTAWATCH_CONFIG_DIR", dir)
	setenv("QUOTAWATCH_DATA_DIR", dir)
	setenv("QUOTAWATCH_CACHE_DIR", dir)
}
