// Package config loads the agent registry: a YAML mapping from agent type
// to the command, environment, and timeouts used to spawn it. The registry
// is the bridge from declarative configuration to live stdio session
// providers.
//
// Registry file shape:
//
//	agents:
//	  reviewer:
//	    command: agent-cli
//	    args: ["--stdio"]
//	    env:
//	      AGENT_MODE: review
//	    timeout: 30m
//	    idle_timeout: 5m
//	    grace_period: 2s
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/conductor-go/process"
	"github.com/dshills/conductor-go/session/stdio"
)

// ErrUnknownAgent is returned when a requested agent type is not in the
// registry.
var ErrUnknownAgent = errors.New("unknown agent type")

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// AgentConfig describes how to spawn one agent type.
type AgentConfig struct {
	// Command is the agent executable. Required.
	Command string `yaml:"command"`

	// Args are passed to the command.
	Args []string `yaml:"args,omitempty"`

	// Env adds to the spawned process environment.
	Env map[string]string `yaml:"env,omitempty"`

	// WorkDir is the default working directory; the session's working
	// directory overrides it at spawn time.
	WorkDir string `yaml:"work_dir,omitempty"`

	// Timeout bounds the agent process's total lifetime. Zero means no
	// bound.
	Timeout Duration `yaml:"timeout,omitempty"`

	// IdleTimeout kills the agent after this long without output. Zero
	// disables the idle timer.
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`

	// GracePeriod is the SIGTERM-to-SIGKILL escalation window.
	GracePeriod Duration `yaml:"grace_period,omitempty"`
}

// ProcessConfig translates the agent configuration into a process spawn
// configuration.
func (c AgentConfig) ProcessConfig() process.Config {
	env := make([]string, 0, len(c.Env))
	for _, k := range sortedKeys(c.Env) {
		env = append(env, k+"="+c.Env[k])
	}
	return process.Config{
		Command:     c.Command,
		Args:        c.Args,
		Dir:         c.WorkDir,
		Env:         env,
		Timeout:     time.Duration(c.Timeout),
		IdleTimeout: time.Duration(c.IdleTimeout),
		GracePeriod: time.Duration(c.GracePeriod),
	}
}

// Registry maps agent types to their spawn configurations.
type Registry struct {
	agents map[string]AgentConfig
}

type registryFile struct {
	Agents map[string]AgentConfig `yaml:"agents"`
}

// Load reads and validates a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse validates registry YAML.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, errors.New("registry defines no agents")
	}
	for name, agent := range f.Agents {
		if agent.Command == "" {
			return nil, fmt.Errorf("agent %q: command is required", name)
		}
	}
	return &Registry{agents: f.Agents}, nil
}

// NewRegistry builds a registry programmatically, applying the same
// validation as Parse.
func NewRegistry(agents map[string]AgentConfig) (*Registry, error) {
	if len(agents) == 0 {
		return nil, errors.New("registry defines no agents")
	}
	copied := make(map[string]AgentConfig, len(agents))
	for name, agent := range agents {
		if agent.Command == "" {
			return nil, fmt.Errorf("agent %q: command is required", name)
		}
		copied[name] = agent
	}
	return &Registry{agents: copied}, nil
}

// Agent returns the configuration for an agent type.
func (r *Registry) Agent(agentType string) (AgentConfig, error) {
	agent, ok := r.agents[agentType]
	if !ok {
		return AgentConfig{}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentType)
	}
	return agent, nil
}

// Types lists the registered agent types in sorted order.
func (r *Registry) Types() []string {
	return sortedKeys(r.agents)
}

// Provider builds a lazily-spawning stdio session provider for the agent
// type, using manager to own the agent process.
func (r *Registry) Provider(agentType string, manager *process.Manager) (*stdio.Provider, error) {
	agent, err := r.Agent(agentType)
	if err != nil {
		return nil, err
	}
	return stdio.NewProvider(stdio.ProcessSpawner(manager, agent.ProcessConfig())), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
