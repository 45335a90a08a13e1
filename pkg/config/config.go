package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config file at the given path into conf. Unknown
// fields are rejected.
//
// If expandEnv is true, references to $VAR or ${VAR} are replaced with the
// corresponding environment variable before parsing. A default can be given
// with ${VAR:default}, which is used when VAR is unset or empty.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(os.Expand(string(buf), expandEnvVar))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func expandEnvVar(s string) string {
	name, defaultValue, hasDefault := strings.Cut(s, ":")
	if v := os.Getenv(name); v != "" || !hasDefault {
		return v
	}
	return defaultValue
}
