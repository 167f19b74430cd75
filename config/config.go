// Copyright 2024 The dtasm-go Authors
// This file is part of dtasm-go.
//
// dtasm-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dtasm-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with dtasm-go. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the dtasmhost command's configuration from an
// optional TOML file, then lets CLI flags override whatever the file
// set — the same layering go-ethereum nodes use for their own config.
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/dtasm/dtasm-go/log"
)

// tomlSettings keeps TOML keys identical to the Go struct field names,
// the same normalization the teacher's node config uses.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Config is the full set of tunables dtasmhost accepts, whether from a
// TOML file, a flag, or a built-in default.
type Config struct {
	Input          string
	StateFrom      string
	StateTo        string
	StateDB        string
	StateLabel     string
	StartTime      float64
	EndTime        float64
	Timestep       float64
	CSV            string
	Interactive    bool
	Hexdump        bool
	MetricsAddr    string
	InfluxAddr     string
	InfluxDatabase string
}

// Default returns the built-in defaults, applied before a config file
// or flags are consulted.
func Default() Config {
	return Config{
		StartTime: 0,
		Timestep:  0.01,
	}
}

// LoadFile parses a TOML config file into cfg, leaving fields the file
// doesn't mention at their current value.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		return fmt.Errorf("%s, %v", path, err)
	}
	return err
}

// Logger returns a config-scoped logger, used by callers that load a
// config before the rest of the host is wired up.
func Logger() log.Logger { return log.New("component", "config") }
