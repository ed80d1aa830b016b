package config

import "path/filepath"

// LoadedConfig holds everything loaded from mediacore.jsonc, plus the
// resolved directory it was loaded from.
type LoadedConfig struct {
	*UnifiedConfig
	ConfigDir string
}

// LoadAll loads configuration from mediacore.jsonc under configDir (or one
// of FindConfigPath's fallback locations when configDir is empty).
func LoadAll(configDir string) (*LoadedConfig, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		return nil, err
	}

	unified, err := LoadUnifiedConfig(configPath)
	if err != nil {
		return nil, err
	}

	return &LoadedConfig{UnifiedConfig: unified, ConfigDir: filepath.Dir(configPath)}, nil
}
