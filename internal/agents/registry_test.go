package agents

import (
	"errors"
	"testing"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name      string
		agentType AgentType
		authority int
		wantErr   bool
	}{
		{name: "architect", agentType: Architect, authority: 10},
		{name: "product", agentType: Product, authority: 9},
		{name: "build test", agentType: BuildTest, authority: 8},
		{name: "reviewer", agentType: Reviewer, authority: 7},
		{name: "infra", agentType: Infra, authority: 6},
		{name: "implementation", agentType: Implementation, authority: 5},
		{name: "unknown", agentType: "wizard", wantErr: true},
		{name: "empty", agentType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := Get(tt.agentType)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownAgentType) {
					t.Fatalf("expected ErrUnknownAgentType, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if def.Authority != tt.authority {
				t.Errorf("authority = %d, want %d", def.Authority, tt.authority)
			}
			if def.Type != tt.agentType {
				t.Errorf("type = %q, want %q", def.Type, tt.agentType)
			}
		})
	}
}

func TestEveryTypeHasAuthorityInRange(t *testing.T) {
	for _, def := range All() {
		if def.Authority < 1 || def.Authority > 10 {
			t.Errorf("%s: authority %d out of range", def.Type, def.Authority)
		}
		if !ValidProvider(def.DefaultProvider) {
			t.Errorf("%s: unknown default provider %q", def.Type, def.DefaultProvider)
		}
		if def.DefaultModel == "" {
			t.Errorf("%s: empty default model", def.Type)
		}
	}
	if got := len(All()); got != 13 {
		t.Errorf("registry size = %d, want 13", got)
	}
}

func TestCompareTotalOrder(t *testing.T) {
	defs := All()
	for _, a := range defs {
		for _, b := range defs {
			ab, err := Compare(a.Type, b.Type)
			if err != nil {
				t.Fatalf("Compare(%s, %s): %v", a.Type, b.Type, err)
			}
			ba, _ := Compare(b.Type, a.Type)

			switch {
			case a.Authority == b.Authority:
				if ab != Escalation || ba != Escalation {
					t.Errorf("%s vs %s: equal authority must escalate, got %s/%s", a.Type, b.Type, ab, ba)
				}
			case a.Authority > b.Authority:
				if ab != Outranks || ba != Outranked {
					t.Errorf("%s vs %s: got %s/%s", a.Type, b.Type, ab, ba)
				}
			default:
				if ab != Outranked || ba != Outranks {
					t.Errorf("%s vs %s: got %s/%s", a.Type, b.Type, ab, ba)
				}
			}
		}
	}
}

func TestCompareCustomAgainstCustomEscalates(t *testing.T) {
	r, err := Compare(Custom, Custom)
	if err != nil {
		t.Fatal(err)
	}
	if r != Escalation {
		t.Errorf("got %s, want escalation", r)
	}
}

func TestCompareUnknownType(t *testing.T) {
	if _, err := Compare("nope", Architect); !errors.Is(err, ErrUnknownAgentType) {
		t.Errorf("expected ErrUnknownAgentType, got %v", err)
	}
}

func TestTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"free", TierFree},
		{"", TierFree},
		{"bogus", TierFree},
		{"developer", TierDeveloper},
		{"Pro", TierDeveloper},
		{"team", TierTeam},
		{" enterprise ", TierEnterprise},
	}
	for _, tt := range tests {
		if got := ParseTier(tt.in); got != tt.want {
			t.Errorf("ParseTier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if err := Require(TierTeam, TierDeveloper, "stack"); err != nil {
		t.Errorf("team should satisfy developer: %v", err)
	}
	if err := Require(TierFree, TierTeam, "stack"); !errors.Is(err, ErrTierRequired) {
		t.Errorf("expected ErrTierRequired, got %v", err)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    AgentType
		wantErr bool
	}{
		{in: "architect", want: Architect},
		{in: "ArchitectAgent", want: Architect},
		{in: "BuildTestAgent", want: BuildTest},
		{in: "build-test", want: BuildTest},
		{in: "build_test", want: BuildTest},
		{in: " reviewer ", want: Reviewer},
		{in: "Custom", want: Custom},
		{in: "wizard", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownAgentType) {
				t.Errorf("ParseType(%q): expected ErrUnknownAgentType, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
