package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// settings read from a --config file. Keys are flag names. Top level keys are
// shared by both commands, a [producer] or [consumer] table applies to that
// command only.
type fileSettings struct {
	shared map[string]string
	scoped map[string]string
}

func parseConfigFile(data []byte, command string) (fileSettings, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fileSettings{}, fmt.Errorf("parse config: %w", err)
	}

	settings := fileSettings{
		shared: make(map[string]string),
		scoped: make(map[string]string),
	}
	for key, value := range raw {
		if _, isTable := value.(map[string]any); isTable {
			continue
		}
		s, err := settingValue(key, value)
		if err != nil {
			return fileSettings{}, err
		}
		settings.shared[key] = s
	}

	if table, ok := raw[command]; ok {
		section, isTable := table.(map[string]any)
		if !isTable {
			return fileSettings{}, fmt.Errorf("config key %q must be a table", command)
		}
		for key, value := range section {
			s, err := settingValue(command+"."+key, value)
			if err != nil {
				return fileSettings{}, err
			}
			settings.scoped[key] = s
		}
	}
	return settings, nil
}

func settingValue(key string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int64, float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("config key %q: unsupported value of type %T", key, value)
	}
}

// applyConfigFile fills every flag that was not given on the command line or
// through the environment from the --config file.
func applyConfigFile(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	settings, err := parseConfigFile(data, c.Command.Name)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	known := make(map[string]bool)
	for _, f := range c.Command.Flags {
		for _, name := range f.Names() {
			known[name] = true
		}
	}

	apply := func(values map[string]string, strict bool) error {
		for _, name := range sortedKeys(values) {
			if !known[name] {
				if strict {
					return fmt.Errorf("%s: unknown %s setting %q", path, c.Command.Name, name)
				}
				log.Debug().Str("setting", name).Msg("Config setting not used by this command")
				continue
			}
			if c.IsSet(name) {
				continue
			}
			if err := c.Set(name, values[name]); err != nil {
				return fmt.Errorf("%s: setting %q: %w", path, name, err)
			}
		}
		return nil
	}

	// scoped values win over shared ones because the first Set marks the flag
	if err := apply(settings.scoped, true); err != nil {
		return err
	}
	return apply(settings.shared, false)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
