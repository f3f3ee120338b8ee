package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindConfigPath returns the path to portcullis.jsonc using precedence:
// 1. configDir + /portcullis.jsonc (if configDir specified)
// 2. ./config/portcullis.jsonc (project-local)
// 3. ~/.portcullis/config/portcullis.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, "portcullis.jsonc")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("portcullis.jsonc not found in %s", configDir)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return path, nil
		}
		return abs, nil
	}

	candidates := []string{
		filepath.Join("config", "portcullis.jsonc"),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".portcullis", "config", "portcullis.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("portcullis.jsonc not found; tried: %v", candidates)
}

// LoadUnifiedConfig loads configuration from a single portcullis.jsonc file
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg UnifiedConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyUnifiedDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	return &cfg, nil
}

// LoadAll loads configuration from portcullis.jsonc, falling back to
// defaults when no config file exists anywhere on the search path.
func LoadAll(configDir string) (*UnifiedConfig, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		if configDir != "" {
			return nil, err
		}
		cfg := &UnifiedConfig{}
		applyUnifiedDefaults(cfg)
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadUnifiedConfig(configPath)
}

// applyEnvOverrides lets deployment environments win over the config file
// for the handful of settings that differ per host.
func applyEnvOverrides(cfg *UnifiedConfig) {
	if v := os.Getenv("PORTCULLIS_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("PORTCULLIS_SOCKET_ADDR"); v != "" {
		cfg.Server.SocketAddress = v
	}
	if v := os.Getenv("PORTCULLIS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PORTCULLIS_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("PORTCULLIS_KB_ROOT"); v != "" {
		cfg.Resources.KBRoot = v
	}
}

// StripJSONComments removes // and /* */ comments from JSONC content
func StripJSONComments(data []byte) []byte {
	input := string(data)
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	inString := false
	for i < len(input) {
		// Track string state (to avoid stripping inside strings)
		if input[i] == '"' && (i == 0 || input[i-1] != '\\') {
			inString = !inString
			result.WriteByte(input[i])
			i++
			continue
		}

		// Only process comments when not inside a string
		if !inString {
			// Line comment //
			if i+1 < len(input) && input[i] == '/' && input[i+1] == '/' {
				// Skip to end of line
				for i < len(input) && input[i] != '\n' {
					i++
				}
				continue
			}

			// Block comment /* */
			if i+1 < len(input) && input[i] == '/' && input[i+1] == '*' {
				i += 2
				// Find closing */
				for i+1 < len(input) {
					if input[i] == '*' && input[i+1] == '/' {
						i += 2
						break
					}
					i++
				}
				continue
			}
		}

		result.WriteByte(input[i])
		i++
	}

	return []byte(result.String())
}
