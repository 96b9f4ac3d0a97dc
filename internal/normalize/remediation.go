package normalize

import (
	"fmt"
	"strings"
)

var remediations = map[string]string{
	CategorySQLInjection:     "Use parameterized queries or prepared statements; never build SQL by concatenating user input.",
	CategoryXSS:              "Encode untrusted data for the output context and prefer framework auto-escaping over raw HTML sinks.",
	CategoryCommandInjection: "Pass arguments as a discrete vector without a shell, and validate any user-controlled value against an allow-list.",
	CategoryCodeInjection:    "Remove dynamic evaluation of untrusted input; replace eval-style calls with explicit parsing.",
	CategoryPathTraversal:    "Canonicalize paths and verify they stay inside the intended base directory before opening them.",
	CategorySecret:           "Revoke and rotate the exposed credential, then load secrets from the environment or a secret manager.",
	CategoryWeakCrypto:       "Replace the weak algorithm with a modern primitive such as SHA-256, AES-GCM or bcrypt/argon2 for passwords.",
	CategoryDeserialization:  "Do not deserialize untrusted data with native object formats; use a safe data-only format and validate the schema.",
	CategorySSRF:             "Validate outbound URLs against an allow-list of hosts and block internal address ranges.",
	CategoryTransport:        "Enable certificate verification and require TLS 1.2 or newer for every outbound connection.",
	CategoryRandomness:       "Use a cryptographically secure random source for tokens, keys and identifiers.",
	CategoryOpenRedirect:     "Only redirect to relative paths or to hosts on an explicit allow-list.",
	CategoryCSRF:             "Require an anti-CSRF token or SameSite cookies on every state-changing request.",
	CategoryXXE:              "Disable external entity and DTD processing in the XML parser.",
	CategoryMisconfiguration: "Apply the secure setting described by the referenced rule and re-run the scan to confirm.",
}

const genericRemediation = "Review the reported code and apply the guidance referenced by the rule."

// Fix picks remediation text for a finding. Tool-supplied advice wins over the
// category table.
func Fix(category, toolAdvice string) string {
	if advice := strings.TrimSpace(toolAdvice); advice != "" {
		return advice
	}
	if r, ok := remediations[category]; ok {
		return r
	}
	return genericRemediation
}

// DependencyFix describes an upgrade path for a vulnerable package.
func DependencyFix(pkg, installed, fixed string) string {
	fixed = strings.TrimSpace(fixed)
	if fixed == "" {
		return fmt.Sprintf("No fixed version of %s is available yet; consider replacing it or adding compensating controls.", pkg)
	}
	if installed == "" {
		return fmt.Sprintf("Upgrade %s to %s or later.", pkg, fixed)
	}
	return fmt.Sprintf("Upgrade %s from %s to %s or later.", pkg, installed, fixed)
}
