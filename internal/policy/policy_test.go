package policy

import "testing"

func allowAllConfig() Config {
	return Config{
		EnableAutoSend:   true,
		AllowlistDomains: []string{"example.com"},
		AllowlistEmails:  []string{"vip@special.io"},
		MaxPerDay:        10,
	}
}

func TestCheckSendPermission(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		to         string
		sentToday  int
		allowed    bool
		wantReason string
	}{
		{
			name:       "kill switch wins over everything",
			cfg:        Config{EnableAutoSend: true, KillSwitch: true, AllowlistDomains: []string{"example.com"}},
			to:         "a@example.com",
			allowed:    false,
			wantReason: ReasonKillSwitch,
		},
		{
			name:       "not enabled",
			cfg:        Config{AllowlistDomains: []string{"example.com"}},
			to:         "a@example.com",
			allowed:    false,
			wantReason: ReasonNotEnabled,
		},
		{
			name:       "domain not in allowlist",
			cfg:        allowAllConfig(),
			to:         "a@other.com",
			allowed:    false,
			wantReason: ReasonNotInAllowlist,
		},
		{
			name:    "domain allowed",
			cfg:     allowAllConfig(),
			to:      "a@example.com",
			allowed: true,
		},
		{
			name:    "exact email allowed despite foreign domain",
			cfg:     allowAllConfig(),
			to:      "vip@special.io",
			allowed: true,
		},
		{
			name:    "bare domain accepted",
			cfg:     allowAllConfig(),
			to:      "example.com",
			allowed: true,
		},
		{
			name:    "case insensitive",
			cfg:     allowAllConfig(),
			to:      "A@EXAMPLE.COM",
			allowed: true,
		},
		{
			name:       "daily limit reached",
			cfg:        allowAllConfig(),
			to:         "a@example.com",
			sentToday:  10,
			allowed:    false,
			wantReason: ReasonDailyLimitReached,
		},
		{
			name:      "under daily limit",
			cfg:       allowAllConfig(),
			to:        "a@example.com",
			sentToday: 9,
			allowed:   true,
		},
		{
			name:       "empty allowlists deny all",
			cfg:        Config{EnableAutoSend: true},
			to:         "a@example.com",
			allowed:    false,
			wantReason: ReasonNotInAllowlist,
		},
		{
			name:       "allowlist checked before daily limit",
			cfg:        allowAllConfig(),
			to:         "a@other.com",
			sentToday:  10,
			allowed:    false,
			wantReason: ReasonNotInAllowlist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := NewGate(tt.cfg).CheckSendPermission(tt.to, tt.sentToday)
			if decision.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v (%s)", decision.Allowed, tt.allowed, decision.Details)
			}
			if !tt.allowed && decision.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", decision.Reason, tt.wantReason)
			}
		})
	}
}

func TestIsSendingEnabled(t *testing.T) {
	if NewGate(Config{EnableAutoSend: true}).IsSendingEnabled() != true {
		t.Error("enabled gate reported disabled")
	}
	if NewGate(Config{EnableAutoSend: true, KillSwitch: true}).IsSendingEnabled() {
		t.Error("env kill switch should disable sending")
	}
	if NewGate(Config{}).IsSendingEnabled() {
		t.Error("default gate should be disabled")
	}
}

func TestZeroMaxPerDayMeansUnlimited(t *testing.T) {
	cfg := allowAllConfig()
	cfg.MaxPerDay = 0
	decision := NewGate(cfg).CheckSendPermission("a@example.com", 100000)
	if !decision.Allowed {
		t.Errorf("MaxPerDay=0 should be unlimited, got %s", decision.Reason)
	}
}
