package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tessera-labs/tessera/internal/domain"
)

// Action is what a policy rule does when its pattern matches.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule is one ordered policy entry. Patterns are Go regular expressions;
// prefix with (?i) for case-insensitive matching.
type Rule struct {
	Action  Action `json:"action"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason,omitempty"`
}

// Policy is an ordered rule list with a default action for queries no rule
// matches. An empty default allows.
type Policy struct {
	Default Action `json:"default"`
	Rules   []Rule `json:"rules"`
}

// LoadPolicy reads a policy from a JSON file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, domain.NewDomainErrorWithCause(domain.ErrCodeConfiguration, "failed to read policy file", err)
	}

	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return Policy{}, domain.NewDomainErrorWithCause(domain.ErrCodeConfiguration, "failed to parse policy file", err)
	}
	return policy, nil
}

type compiledRule struct {
	action  Action
	pattern *regexp.Regexp
	source  string
	reason  string
}

// PolicyEngine evaluates ordered allow/deny rules; the first matching rule
// wins.
type PolicyEngine struct {
	rules        []compiledRule
	defaultAllow bool
}

// NewPolicyEngine compiles a policy. Invalid actions or patterns are
// configuration errors.
func NewPolicyEngine(policy Policy) (*PolicyEngine, error) {
	if policy.Default != "" && policy.Default != ActionAllow && policy.Default != ActionDeny {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("unknown default action %q", policy.Default))
	}

	rules := make([]compiledRule, 0, len(policy.Rules))
	for _, rule := range policy.Rules {
		if rule.Action != ActionAllow && rule.Action != ActionDeny {
			return nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("unknown action %q", rule.Action))
		}
		if rule.Pattern == "" {
			return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "policy rule has no pattern")
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeConfiguration, fmt.Sprintf("invalid policy pattern %q", rule.Pattern), err)
		}
		rules = append(rules, compiledRule{
			action:  rule.Action,
			pattern: pattern,
			source:  rule.Pattern,
			reason:  rule.Reason,
		})
	}

	return &PolicyEngine{
		rules:        rules,
		defaultAllow: policy.Default != ActionDeny,
	}, nil
}

// Check reports whether the query is allowed.
func (e *PolicyEngine) Check(ctx context.Context, query string) (domain.Decision, error) {
	for _, rule := range e.rules {
		if !rule.pattern.MatchString(query) {
			continue
		}
		if rule.action == ActionAllow {
			return domain.Decision{Allowed: true}, nil
		}
		reason := rule.reason
		if reason == "" {
			reason = fmt.Sprintf("Blocked by safety policy (rule: %s)", rule.source)
		}
		return domain.Decision{Reason: reason}, nil
	}

	if e.defaultAllow {
		return domain.Decision{Allowed: true}, nil
	}
	return domain.Decision{Reason: "Blocked by safety policy (default deny)"}, nil
}
