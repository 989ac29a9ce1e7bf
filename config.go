// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clustervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes a cluster of identical workers.  It is normally
// loaded from a manifest, in either JSON or YAML form.  Durations in JSON
// manifests are expressed in nanoseconds (as time.Duration marshals),
// whereas YAML manifests use strings such as "5s".
type Config struct {
	Exec         string   `json:"exec" yaml:"exec"`
	Args         []string `json:"args" yaml:"args"`
	Env          []string `json:"env" yaml:"env"`
	Dir          string   `json:"dir" yaml:"dir"`
	Size         int      `json:"size" yaml:"size"`
	Silent       bool     `json:"silent" yaml:"silent"`
	ReadyPattern string   `json:"readyPattern" yaml:"readyPattern"`

	// ListeningWorkers selects the readiness signal.  When true (the
	// default) a worker is ready once it announces that it is listening.
	// Some workloads never open a listening socket; for those, set
	// this to false and creation of the process is enough.
	ListeningWorkers bool `json:"listeningWorkers" yaml:"listeningWorkers"`

	MinRestartAge       time.Duration `json:"minRestartAge" yaml:"minRestartAge"`
	MaxUnstableRestarts int           `json:"maxUnstableRestarts" yaml:"maxUnstableRestarts"`

	SweepInterval   time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
	KillGrace       time.Duration `json:"killGrace" yaml:"killGrace"`
	SkepticWindow   time.Duration `json:"skepticWindow" yaml:"skepticWindow"`
	RestartCooldown time.Duration `json:"restartCooldown" yaml:"restartCooldown"`
	ResizeBackoff   time.Duration `json:"resizeBackoff" yaml:"resizeBackoff"`
	RespawnDelay    time.Duration `json:"respawnDelay" yaml:"respawnDelay"`
	UnstableWindow  time.Duration `json:"unstableWindow" yaml:"unstableWindow"`
	UnstableRecheck time.Duration `json:"unstableRecheck" yaml:"unstableRecheck"`
	StableAge       time.Duration `json:"stableAge" yaml:"stableAge"`

	Signals bool `json:"signals" yaml:"signals"`

	// Admin is the address of the administrative interface.  It can
	// be a TCP address ("127.0.0.1:8321"), a unix socket path (anything
	// containing a slash, or prefixed with "unix:"), or empty to disable
	// the interface.
	Admin         string `json:"admin" yaml:"admin"`
	AdminUser     string `json:"adminUser" yaml:"adminUser"`
	AdminPassHash string `json:"adminPassHash" yaml:"adminPassHash"`
}

// DefaultConfig returns a Config with every default filled in.  Manifests
// are decoded over these values, so that omitted keys keep their default.
func DefaultConfig() Config {
	return Config{
		Size:                runtime.NumCPU(),
		ListeningWorkers:    true,
		MinRestartAge:       10 * time.Second,
		MaxUnstableRestarts: 5,
		SweepInterval:       time.Minute,
		KillGrace:           5 * time.Second,
		SkepticWindow:       2 * time.Second,
		RestartCooldown:     30 * time.Second,
		ResizeBackoff:       time.Second,
		RespawnDelay:        2 * time.Second,
		UnstableWindow:      time.Minute,
		UnstableRecheck:     10 * time.Second,
		StableAge:           20 * time.Second,
		Signals:             true,
	}
}

// Validate checks the configuration for obvious mistakes.  It does not
// require an executable, since a custom Launcher may not need one.
func (c *Config) Validate() error {
	if c.Size < 0 {
		return ErrBadSize
	}
	if c.MaxUnstableRestarts < 0 {
		return fmt.Errorf("%w: negative maxUnstableRestarts", ErrBadConfig)
	}
	for name, d := range map[string]time.Duration{
		"sweepInterval":   c.SweepInterval,
		"killGrace":       c.KillGrace,
		"skepticWindow":   c.SkepticWindow,
		"resizeBackoff":   c.ResizeBackoff,
		"respawnDelay":    c.RespawnDelay,
		"unstableWindow":  c.UnstableWindow,
		"unstableRecheck": c.UnstableRecheck,
	} {
		// zero is not allowed; timers would spin
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrBadConfig, name)
		}
	}
	if c.MinRestartAge < 0 || c.RestartCooldown < 0 || c.StableAge < 0 {
		return fmt.Errorf("%w: negative duration", ErrBadConfig)
	}
	if c.ReadyPattern != "" {
		if _, e := regexp.Compile(c.ReadyPattern); e != nil {
			return fmt.Errorf("%w: readyPattern: %v", ErrBadConfig, e)
		}
	}
	return nil
}

// Command returns the absolute path of the executable, and its arguments.
func (c *Config) Command() (string, []string, error) {
	if c.Exec == "" {
		return "", nil, ErrNoExecutable
	}
	path, e := filepath.Abs(c.Exec)
	if e != nil {
		return "", nil, e
	}
	return path, append([]string{}, c.Args...), nil
}

// NewConfigFromJSON decodes a JSON manifest over the defaults.
func NewConfigFromJSON(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := json.NewDecoder(r)
	if e := dec.Decode(&c); e != nil {
		return c, e
	}
	return c, c.Validate()
}

// NewConfigFromYAML decodes a YAML manifest over the defaults.
func NewConfigFromYAML(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if e := dec.Decode(&c); e != nil && e != io.EOF {
		return c, e
	}
	return c, c.Validate()
}

// LoadConfig reads a manifest file.  Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadConfig(path string) (Config, error) {
	f, e := os.Open(path)
	if e != nil {
		return DefaultConfig(), e
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewConfigFromYAML(f)
	}
	return NewConfigFromJSON(f)
}
