package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DotEnvPath returns the path of the dotenv file that sits next to the config.
func DotEnvPath(dir string) string {
	return filepath.Join(dir, ".env")
}

// LoadDotEnv reads dir/.env and returns key/value pairs.
//
// Parsing rules:
// - Lines starting with '#' are ignored.
// - Empty lines are ignored.
// - Lines must be of form KEY=VALUE.
// - Whitespace around KEY is trimmed.
// - VALUE is taken as-is (no quote parsing).
func LoadDotEnv(dir string) (map[string]string, error) {
	p := DotEnvPath(dir)

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("cannot open dotenv file %s: %w", p, err)
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := line[i+1:]
		if k == "" {
			continue
		}
		out[k] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read dotenv file %s: %w", p, err)
	}
	return out, nil
}

// GetConfigValue returns the effective value for key, using process environment variables
// first and falling back to dir/.env.
func GetConfigValue(dir, key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	dotenv, err := LoadDotEnv(dir)
	if err != nil {
		return "", err
	}
	return dotenv[key], nil
}

// EnsureDotEnvTemplate creates dir/.env if it does not already exist.
//
// The template lists the override keys with empty values.
func EnsureDotEnvTemplate(dir string) error {
	p := DotEnvPath(dir)

	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot stat dotenv file %s: %w", p, err)
	}

	body := "" +
		"SYMSVG_CATALOGUE=\n" +
		"SYMSVG_ENGINE=\n" +
		"SYMSVG_ENGINE_URL=\n" +
		"SYMSVG_ENGINE_COMMAND=\n"

	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		return fmt.Errorf("cannot write dotenv template %s: %w", p, err)
	}
	return nil
}
