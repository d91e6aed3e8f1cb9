package main

import (
	"strings"
	"testing"

	"github.com/redstone-dev/redstone/internal/scheduler"
)

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--stack", "full-stack", "--apply", "--server", "https://example.com"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := cmd.Flags().GetString("stack"); got != "full-stack" {
		t.Errorf("stack = %q", got)
	}
	if got, _ := cmd.Flags().GetBool("apply"); !got {
		t.Error("apply not set")
	}
	if got, _ := cmd.Flags().GetString("server"); got != "https://example.com" {
		t.Errorf("server = %q", got)
	}
	if err := cmd.ParseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected unknown flag error")
	}
}

func TestStackOptions(t *testing.T) {
	opts := stackOptions()
	stacks := scheduler.Stacks()
	if len(opts) != len(stacks) {
		t.Fatalf("got %d options for %d stacks", len(opts), len(stacks))
	}
	for i, opt := range opts {
		if opt.Value != stacks[i].Slug {
			t.Errorf("option %d value = %q, want %q", i, opt.Value, stacks[i].Slug)
		}
		if !strings.Contains(opt.Key, stacks[i].Name) {
			t.Errorf("option %d label = %q", i, opt.Key)
		}
	}
}

func TestPromptFieldsSkipsStackWhenGiven(t *testing.T) {
	tests := []struct {
		name string
		o    options
		want int
	}{
		{"nothing given", options{}, 3},
		{"stack flag", options{stack: "full-stack"}, 2},
		{"workflow flag", options{workflow: "wf-1"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(promptFields(&tt.o)); got != tt.want {
				t.Errorf("fields = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "http://localhost:8080/agents/ws/c1"},
		{"https://example.com/api/", "https://example.com/api/agents/ws/c1"},
	}
	for _, tt := range tests {
		got, err := endpoint(tt.server, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("endpoint(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}
