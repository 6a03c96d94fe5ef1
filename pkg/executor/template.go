package executor

import (
	"os"
	"regexp"
)

// templatePattern matches {{secret.KEY}} and {{env.VAR}} placeholders
// in header and auth values. Whitespace inside the braces is tolerated.
var templatePattern = regexp.MustCompile(`\{\{\s*(secret|env)\.([A-Za-z0-9_.-]+)\s*\}\}`)

// SecretStore resolves named secrets referenced by tool configuration.
type SecretStore interface {
	// Secret returns the value for key. The second return reports
	// whether the key exists.
	Secret(key string) (string, bool)
}

// EnvSecrets resolves secrets from process environment variables,
// optionally under a prefix (e.g. "TOOLGATE_SECRET_").
type EnvSecrets struct {
	Prefix string
}

var _ SecretStore = EnvSecrets{}

// Secret implements SecretStore.
func (s EnvSecrets) Secret(key string) (string, bool) {
	return os.LookupEnv(s.Prefix + key)
}

// renderTemplate substitutes {{secret.KEY}} and {{env.VAR}} placeholders
// in value. Placeholders that do not resolve are left literal so that a
// misconfigured reference is visible in the outbound request rather than
// silently blanked.
func renderTemplate(value string, secrets SecretStore) string {
	return templatePattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := templatePattern.FindStringSubmatch(match)
		kind, key := groups[1], groups[2]
		switch kind {
		case "secret":
			if secrets != nil {
				if v, ok := secrets.Secret(key); ok {
					return v
				}
			}
		case "env":
			if v, ok := os.LookupEnv(key); ok {
				return v
			}
		}
		return match
	})
}
