package agents

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTierRequired is returned when the caller's plan does not unlock a feature.
var ErrTierRequired = errors.New("plan tier required")

// Tier is a subscription plan level. Higher values unlock more.
type Tier int

const (
	TierFree Tier = iota
	TierDeveloper
	TierTeam
	TierEnterprise
)

var tierNames = map[Tier]string{
	TierFree:       "free",
	TierDeveloper:  "developer",
	TierTeam:       "team",
	TierEnterprise: "enterprise",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "free"
}

// ParseTier converts a plan name into a Tier. "pro" is an alias of developer.
// Unknown or empty names are treated as free.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "developer", "pro":
		return TierDeveloper
	case "team":
		return TierTeam
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	*t = ParseTier(string(b))
	return nil
}

// Require returns ErrTierRequired when have is below need.
func Require(have, need Tier, feature string) error {
	if have >= need {
		return nil
	}
	return fmt.Errorf("%w: %s needs %s (current: %s)", ErrTierRequired, feature, need, have)
}

// ElasticSwarmTier is the minimum plan for user-defined workflows.
const ElasticSwarmTier = TierDeveloper
