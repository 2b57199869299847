// Package config loads the settings file and exposes typed accessors over it.
package config

import (
	"path/filepath"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/tracker-search/library/log"
)

// LoadFromFile loads the YAML settings file into gconfig.Shared.
// The directory of cfgPath is remembered as `cfg_dir` so relative paths inside
// the settings file can be resolved with ResolvePath.
func LoadFromFile(cfgPath string) {
	gconfig.Shared.Set("cfg_dir", filepath.Dir(cfgPath))
	if err := gconfig.Shared.LoadFromFile(cfgPath); err != nil {
		log.Logger.Panic("load configuration",
			zap.Error(err),
			zap.String("config", cfgPath))
	}

	log.Logger.Info("load configuration",
		zap.String("config", cfgPath))
}

// ResolvePath returns path unchanged when it is absolute or empty,
// otherwise joins it onto the directory of the loaded settings file.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	dir := gconfig.Shared.GetString("cfg_dir")
	if dir == "" {
		return path
	}

	return filepath.Join(dir, path)
}
