// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads service configuration from a YAML file merged with
// environment variable overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator can optionally be implemented by a configuration to do
// cross-field validation and app-specific checks.
type Validator interface {
	IsValid() error
}

// Load fills cfg by merging in the YAML file (when given), then the
// environment mappings, then calling IsValid if *T implements [Validator].
func Load[T any](cfg *T, yamlFilePath string, envMappings map[string]EnvMapping[T]) error {
	if yamlFilePath != "" {
		yamlFile, err := os.Open(yamlFilePath)
		if err != nil {
			return fmt.Errorf("failed to open YAML file: %w", err)
		}
		defer yamlFile.Close()

		if err := MergeYAML(cfg, io.Reader(yamlFile)); err != nil {
			return err
		}
	}

	if err := MergeEnv(cfg, envMappings); err != nil {
		return err
	}

	if validator, ok := any(cfg).(Validator); ok {
		if err := validator.IsValid(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return nil
}

// MergeYAML merges the YAML source into cfg. Environment references in the
// YAML are expanded first: `key: ${VAR}` becomes VAR's value and errors when
// VAR is unset, `key: ${VAR:-fallback}` uses the fallback instead.
func MergeYAML[T any](cfg *T, yamlSrc io.Reader) error {
	rawYAML, err := io.ReadAll(yamlSrc)
	if err != nil {
		return fmt.Errorf("failed to read the YAML source: %w", err)
	}

	var missingKeys []string

	expanded := os.Expand(string(rawYAML), func(rawKey string) string {
		if name, fallback, ok := strings.Cut(rawKey, ":-"); ok {
			if val, isSet := os.LookupEnv(name); isSet {
				return val
			}
			return fallback
		}

		val, isSet := os.LookupEnv(rawKey)
		if !isSet {
			missingKeys = append(missingKeys, rawKey)
			return ""
		}
		return val
	})

	if len(missingKeys) > 0 {
		return fmt.Errorf("YAML source expects the following environment variables to be set: %v", missingKeys)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML to config: %w", err)
	}
	return nil
}

// EnvMapping maps one environment variable onto the config. A mapping with
// Required set errors when the variable is unset.
type EnvMapping[T any] struct {
	Required bool
	Func     func(cfg *T, val string) error
}

// MergeEnv merges environment variables into cfg using the provided
// mappings. It does not stop on the first error; it collects as many as
// possible.
func MergeEnv[T any](cfg *T, mappings map[string]EnvMapping[T]) error {
	var errs error

	for key, mapping := range mappings {
		val, isSet := os.LookupEnv(key)
		if !isSet {
			if mapping.Required {
				errs = errors.Join(errs, fmt.Errorf("missing required env variable %s", key))
			}
			continue
		}
		if err := mapping.Func(cfg, val); err != nil {
			errs = errors.Join(errs, fmt.Errorf("error for env variable %s: %w", key, err))
		}
	}

	return errs
}

// MapEnvInt is a helper to map environment variables to integer fields.
func MapEnvInt(tgt *int, val string) error {
	i, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*tgt = i
	return nil
}

// MapEnvBool is a helper to map environment variables to bool fields.
func MapEnvBool(tgt *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*tgt = b
	return nil
}

// FilenameFromArgs parses the config file flag from the command line
// arguments.
func FilenameFromArgs(args []string) (string, error) {
	fs := flag.NewFlagSet("service", flag.ContinueOnError)
	configPathFlag := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	cp, err := filepath.Abs(*configPathFlag)
	if err != nil {
		return "", fmt.Errorf("invalid config path: %w", err)
	}

	return cp, nil
}
