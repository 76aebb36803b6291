// Package config supplies default overrides for the daemon's
// command-line flags, using koanf/v2 to layer file, environment and
// default providers: an optional YAML file first, then
// DNSLOGGER_FORWARD_* environment variables on top.
//
// This is not a replacement for the flag-based CLI: every flag listed in
// cmd/dnslogger-forward/main.go keeps its name, shape and
// default-when-unset behavior. These layers only change what value a
// flag falls back to when the operator does not pass it explicitly.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the environment variable prefix for dnslogger-forward
// default overrides. Variables are named DNSLOGGER_FORWARD_<FLAG>, e.g.
// DNSLOGGER_FORWARD_FILTER, DNSLOGGER_FORWARD_LOG_INTERVAL.
const envPrefix = "DNSLOGGER_FORWARD_"

// Defaults holds the flag defaults after environment overrides have been
// applied on top of the built-in ones. Every field mirrors one CLI flag.
// Fields are seeded with the built-in values before the file and
// environment layers load, so a field no layer sets keeps its built-in
// value; a layer that sets a zero value yields that zero value.
type Defaults struct {
	Interface       string `koanf:"interface"`
	Filter          string `koanf:"filter"`
	ForwardAuthOnly bool   `koanf:"forward_auth_only"`
	NoForwardEmpty  bool   `koanf:"no_forward_empty"`
	TCPForward      bool   `koanf:"tcp_forward"`
	LogInterval     uint32 `koanf:"log_interval"`
}

// BuiltinDefaults returns the daemon's hard-coded flag defaults: empty
// interface (capture backend picks one), "udp and port 53" filter, every
// boolean flag off, and an hourly checkpoint interval.
func BuiltinDefaults() Defaults {
	return Defaults{
		Filter:      "udp and port 53",
		LogInterval: 3600,
	}
}

// LoadDefaults layers base, an optional YAML defaults file, and
// DNSLOGGER_FORWARD_* environment variables, in that order, and returns
// the result main should register its flags with. Flags the operator
// actually passes still win over every layer; this only changes what an
// omitted flag defaults to. configFile may be empty, in which case the
// file layer is skipped entirely.
func LoadDefaults(base Defaults, configFile string) (Defaults, error) {
	k := koanf.New(".")

	defaultMap := map[string]any{
		"interface":         base.Interface,
		"filter":            base.Filter,
		"forward_auth_only": base.ForwardAuthOnly,
		"no_forward_empty":  base.NoForwardEmpty,
		"tcp_forward":       base.TCPForward,
		"log_interval":      base.LogInterval,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return Defaults{}, fmt.Errorf("config: set builtin default %s: %w", key, err)
		}
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
				return Defaults{}, fmt.Errorf("config: load defaults file %s: %w", configFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Defaults{}, fmt.Errorf("config: stat defaults file %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return Defaults{}, fmt.Errorf("config: load environment overrides: %w", err)
	}

	defaults := Defaults{}
	if err := k.Unmarshal("", &defaults); err != nil {
		return Defaults{}, fmt.Errorf("config: unmarshal defaults: %w", err)
	}
	return defaults, nil
}

// envKeyMapper transforms DNSLOGGER_FORWARD_LOG_INTERVAL into
// log_interval: strips the prefix, lowercases, and leaves underscores as
// the koanf path separator expects a ".", so multi-word flags still
// resolve to their single-level key (there is no nested section here).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ToLower(s)
}
