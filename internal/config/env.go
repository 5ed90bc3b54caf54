package config

import (
	"fmt"
	"os"
	"strings"
)

// IdentitiesFromEnv collects sender identities from numbered env pairs:
//
//	MAILBOT_EMAIL1 / MAILBOT_APP_PASSWORD1
//	MAILBOT_EMAIL2 / MAILBOT_APP_PASSWORD2
//	...
//
// Scanning stops at the first missing index, so the pairs must be contiguous
// starting at 1. Addresses already present in the file config are skipped so
// the file stays authoritative.
func IdentitiesFromEnv(existing []IdentityConfig) []IdentityConfig {
	seen := make(map[string]bool, len(existing))
	for _, ic := range existing {
		seen[strings.ToLower(strings.TrimSpace(ic.Address))] = true
	}

	var out []IdentityConfig
	for i := 1; ; i++ {
		addr := strings.TrimSpace(os.Getenv(fmt.Sprintf("MAILBOT_EMAIL%d", i)))
		pass := os.Getenv(fmt.Sprintf("MAILBOT_APP_PASSWORD%d", i))
		if addr == "" || pass == "" {
			break
		}
		if seen[strings.ToLower(addr)] {
			continue
		}
		seen[strings.ToLower(addr)] = true
		out = append(out, IdentityConfig{Address: addr, Password: pass})
	}
	return out
}
