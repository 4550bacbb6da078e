// Package policy decides which payout corridors are open, on which
// rails, and whether a cross-border payout must lock an FX rate first.
package policy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

//go:embed corridor-policy.default.json
var defaultPolicyJSON []byte

// ErrCorridorNotAllowed is returned when no rule covers a corridor.
var ErrCorridorNotAllowed = errors.New("policy: corridor not allowed")

// Rule is one corridor entry. A "*" country or currency matches
// anything; concrete values win over wildcards during resolution.
type Rule struct {
	Source              string   `json:"source" validate:"required"`
	Destination         string   `json:"destination" validate:"required"`
	SourceCurrency      string   `json:"sourceCurrency"`
	DestinationCurrency string   `json:"destinationCurrency"`
	Rails               []string `json:"rails" validate:"min=1"`
	LockRequired        bool     `json:"lockRequired"`
	MaxAmountMinor      int64    `json:"maxAmountMinor,omitempty"`
}

// AllowsRail reports whether the rule permits the given rail.
func (r Rule) AllowsRail(rail string) bool {
	for _, allowed := range r.Rails {
		if allowed == rail {
			return true
		}
	}
	return false
}

// Policy is a versioned corridor rule set.
type Policy struct {
	Version   string `json:"version"`
	Corridors []Rule `json:"corridors"`
}

// Resolve finds the most specific rule for a corridor. Country pairs
// are matched first; among matches, concrete currencies beat
// wildcards.
func (p *Policy) Resolve(sourceCountry, destCountry, sourceCurrency, destCurrency string) (Rule, error) {
	best := -1
	var match Rule

	for _, rule := range p.Corridors {
		if !matches(rule.Source, sourceCountry) || !matches(rule.Destination, destCountry) {
			continue
		}
		if !matches(rule.SourceCurrency, sourceCurrency) || !matches(rule.DestinationCurrency, destCurrency) {
			continue
		}
		score := specificity(rule.Source) + specificity(rule.Destination) +
			specificity(rule.SourceCurrency) + specificity(rule.DestinationCurrency)
		if score > best {
			best = score
			match = rule
		}
	}

	if best < 0 {
		return Rule{}, fmt.Errorf("%w: %s->%s %s/%s",
			ErrCorridorNotAllowed, sourceCountry, destCountry, sourceCurrency, destCurrency)
	}
	return match, nil
}

func matches(pattern, value string) bool {
	return pattern == "" || pattern == "*" || pattern == value
}

func specificity(pattern string) int {
	if pattern == "" || pattern == "*" {
		return 0
	}
	return 1
}

// Config selects the policy source. Inline JSON wins over a file path;
// with neither set the embedded default applies.
type Config struct {
	Inline string `envconfig:"POLICY_INLINE"`
	File   string `envconfig:"POLICY_FILE"`
}

var (
	defaultMu     sync.Mutex
	defaultParsed *Policy
)

// Load parses the policy for cfg. The embedded default is parsed once
// and cached.
func Load(cfg Config) (*Policy, error) {
	if cfg.Inline != "" {
		return parse([]byte(cfg.Inline))
	}
	if cfg.File != "" {
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading policy file: %w", err)
		}
		return parse(raw)
	}
	return Default()
}

// Default returns the embedded corridor policy.
func Default() (*Policy, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultParsed != nil {
		return defaultParsed, nil
	}
	p, err := parse(defaultPolicyJSON)
	if err != nil {
		return nil, err
	}
	defaultParsed = p
	return p, nil
}

// ClearCache drops the parsed embedded policy so the next Default
// re-parses. Intended for tests.
func ClearCache() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultParsed = nil
}

func parse(raw []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing corridor policy: %w", err)
	}
	if len(p.Corridors) == 0 {
		return nil, errors.New("policy: no corridors defined")
	}
	return &p, nil
}
