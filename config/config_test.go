package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

const sampleRegistry = `
agents:
  reviewer:
    command: agent-cli
    args: ["--stdio", "--profile", "review"]
    env:
      AGENT_MODE: review
      LOG_LEVEL: debug
    work_dir: /src
    timeout: 30m
    idle_timeout: 5m
    grace_period: 2s
  fixer:
    command: fixer-agent
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := r.Types(); !reflect.DeepEqual(got, []string{"fixer", "reviewer"}) {
		t.Errorf("Types() = %v, want sorted [fixer reviewer]", got)
	}

	agent, err := r.Agent("reviewer")
	if err != nil {
		t.Fatalf("Agent(reviewer): %v", err)
	}
	if agent.Command != "agent-cli" {
		t.Errorf("Command = %q", agent.Command)
	}
	if len(agent.Args) != 3 || agent.Args[0] != "--stdio" {
		t.Errorf("Args = %v", agent.Args)
	}
	if time.Duration(agent.Timeout) != 30*time.Minute {
		t.Errorf("Timeout = %v, want 30m", time.Duration(agent.Timeout))
	}
	if time.Duration(agent.IdleTimeout) != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want 5m", time.Duration(agent.IdleTimeout))
	}
	if time.Duration(agent.GracePeriod) != 2*time.Second {
		t.Errorf("GracePeriod = %v, want 2s", time.Duration(agent.GracePeriod))
	}

	// Zero-value durations for the minimal agent.
	fixer, err := r.Agent("fixer")
	if err != nil {
		t.Fatalf("Agent(fixer): %v", err)
	}
	if time.Duration(fixer.Timeout) != 0 {
		t.Errorf("fixer Timeout = %v, want 0", time.Duration(fixer.Timeout))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty registry", "agents: {}"},
		{"missing command", "agents:\n  broken:\n    args: [\"--x\"]\n"},
		{"bad duration", "agents:\n  slow:\n    command: x\n    timeout: soonish\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestUnknownAgent(t *testing.T) {
	r, err := Parse([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := r.Agent("ghost"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := r.Agent("reviewer"); err != nil {
		t.Errorf("Agent(reviewer): %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestProcessConfig(t *testing.T) {
	r, err := Parse([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	agent, _ := r.Agent("reviewer")
	cfg := agent.ProcessConfig()

	if cfg.Command != "agent-cli" || cfg.Dir != "/src" {
		t.Errorf("cfg = %+v", cfg)
	}
	// Env is rendered deterministically, sorted by key.
	want := []string{"AGENT_MODE=review", "LOG_LEVEL=debug"}
	if !reflect.DeepEqual(cfg.Env, want) {
		t.Errorf("Env = %v, want %v", cfg.Env, want)
	}
	if cfg.Timeout != 30*time.Minute || cfg.IdleTimeout != 5*time.Minute || cfg.GracePeriod != 2*time.Second {
		t.Errorf("timeouts = %v/%v/%v", cfg.Timeout, cfg.IdleTimeout, cfg.GracePeriod)
	}
}

func TestNewRegistry(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Error("expected error for empty registry")
	}
	if _, err := NewRegistry(map[string]AgentConfig{"x": {}}); err == nil {
		t.Error("expected error for missing command")
	}
	r, err := NewRegistry(map[string]AgentConfig{"x": {Command: "agent"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.Agent("x"); err != nil {
		t.Errorf("Agent(x): %v", err)
	}
}
