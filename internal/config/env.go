package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadEnv reads a .env file and returns a map of key-value pairs.
// It ignores comments (starting with #) and empty lines.
func LoadEnv(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	env := make(map[string]string)
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
		value := strings.TrimSpace(parts[1])

		// Remove inline comments
		if idx := strings.Index(value, " #"); idx != -1 {
			value = strings.TrimSpace(value[:idx])
		}

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		env[key] = value
	}

	return env, scanner.Err()
}

// ApplyEnvOverrides updates the configuration based on environment variables.
func ApplyEnvOverrides(cfg *Config, env map[string]string) {
	// Server
	if val, ok := env["SERVER_PORT"]; ok {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}

	// Storage
	if val, ok := env["STORAGE_PATH"]; ok {
		cfg.Storage.Path = val
	}

	// Defaults
	if val, ok := env["DEFAULT_REASONER"]; ok {
		cfg.Defaults.Reasoner = val
	}
	if val, ok := env["DEFAULT_MODEL"]; ok {
		cfg.Defaults.Model = val
	}
	if val, ok := env["MAX_ROUNDS"]; ok {
		if rounds, err := strconv.Atoi(val); err == nil {
			cfg.Defaults.MaxRounds = rounds
		}
	}

	// Reasoner enablement and timeouts
	for name, r := range cfg.Reasoners {
		envKey := fmt.Sprintf("REASONER_%s_ENABLED", strings.ToUpper(name))
		if val, ok := env[envKey]; ok {
			if boolVal, err := strconv.ParseBool(val); err == nil {
				r.Enabled = boolVal
				cfg.Reasoners[name] = r
			}
		}

		if val, ok := env["REASONER_TIMEOUT"]; ok {
			if seconds, err := strconv.Atoi(val); err == nil {
				r.Timeout = time.Duration(seconds) * time.Second
				cfg.Reasoners[name] = r
			} else if duration, err := time.ParseDuration(val); err == nil {
				r.Timeout = duration
				cfg.Reasoners[name] = r
			}
		}
	}
}
