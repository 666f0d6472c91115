// Package policy implements the static send-policy gate: master
// enable flag, environment kill switch, recipient allow-list and the
// per-day rate limit. The runtime kill switch (a separate file-backed
// layer) composes with this gate in the dispatcher.
package policy

import (
	"fmt"
	"strings"
)

// Block reasons, stable for logs and JSON output
const (
	ReasonNotEnabled        = "not_enabled"
	ReasonKillSwitch        = "kill_switch"
	ReasonNotInAllowlist    = "not_in_allowlist"
	ReasonDailyLimitReached = "daily_limit_reached"
)

// Config is the enumerated gate configuration
type Config struct {
	EnableAutoSend   bool
	KillSwitch       bool
	AllowlistDomains []string
	AllowlistEmails  []string
	MaxPerDay        int
}

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// Gate answers send-permission queries against a fixed configuration
type Gate struct {
	cfg Config
}

// NewGate creates a gate over the given configuration
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// IsSendingEnabled reports whether sending is enabled at all: the
// master flag must be on and the environment kill switch off.
func (g *Gate) IsSendingEnabled() bool {
	return g.cfg.EnableAutoSend && !g.cfg.KillSwitch
}

// MaxPerDay returns the configured daily send budget (0 = unlimited)
func (g *Gate) MaxPerDay() int {
	return g.cfg.MaxPerDay
}

// CheckSendPermission evaluates the gate for one recipient. Checks run
// in a fixed order (env kill switch, enable flag, allow-list, rate
// limit) so Details is deterministic.
func (g *Gate) CheckSendPermission(to string, todaySentCount int) Decision {
	if g.cfg.KillSwitch {
		return Decision{
			Allowed: false,
			Reason:  ReasonKillSwitch,
			Details: "KILL_SWITCH environment variable is set",
		}
	}

	if !g.cfg.EnableAutoSend {
		return Decision{
			Allowed: false,
			Reason:  ReasonNotEnabled,
			Details: "ENABLE_AUTO_SEND is not set",
		}
	}

	if !g.isAllowed(to) {
		return Decision{
			Allowed: false,
			Reason:  ReasonNotInAllowlist,
			Details: fmt.Sprintf("recipient domain %q not in allow-list", domainOf(to)),
		}
	}

	if g.cfg.MaxPerDay > 0 && todaySentCount >= g.cfg.MaxPerDay {
		return Decision{
			Allowed: false,
			Reason:  ReasonDailyLimitReached,
			Details: fmt.Sprintf("daily limit %d reached (%d sent today)", g.cfg.MaxPerDay, todaySentCount),
		}
	}

	return Decision{Allowed: true}
}

// isAllowed matches the recipient against the email allow-list OR the
// domain allow-list, case-insensitively. Empty allow-lists deny all.
func (g *Gate) isAllowed(to string) bool {
	to = strings.ToLower(strings.TrimSpace(to))

	for _, email := range g.cfg.AllowlistEmails {
		if strings.ToLower(strings.TrimSpace(email)) == to {
			return true
		}
	}

	domain := domainOf(to)
	for _, allowed := range g.cfg.AllowlistDomains {
		if strings.ToLower(strings.TrimSpace(allowed)) == domain {
			return true
		}
	}

	return false
}

// domainOf returns the lower-cased domain part of an address, or the
// whole string when it carries no @ (already a bare domain).
func domainOf(to string) string {
	to = strings.ToLower(strings.TrimSpace(to))
	if i := strings.LastIndex(to, "@"); i >= 0 {
		return to[i+1:]
	}
	return to
}
