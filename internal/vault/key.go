package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadMasterKey resolves the vault master key. The environment variable
// wins so containerized deployments never need the key on disk; the key
// file is the default for local installs (written by the init command).
func LoadMasterKey(envVar, keyFile string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}

	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err == nil {
			key := strings.TrimSpace(string(data))
			if key != "" {
				return key, nil
			}
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading master key file: %w", err)
		}
	}

	return "", fmt.Errorf("no master key: set %s or create %s", envVar, keyFile)
}

// GenerateMasterKey creates a new random master key
func GenerateMasterKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// WriteMasterKeyFile persists a master key with owner-only permissions.
// It refuses to overwrite an existing file: losing a master key orphans
// every credential encrypted under it.
func WriteMasterKeyFile(path, key string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("master key file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing master key file: %w", err)
	}
	return nil
}
