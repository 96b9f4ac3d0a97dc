package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	CategorySQLInjection     = "SQL Injection"
	CategoryXSS              = "Cross-Site Scripting"
	CategoryCommandInjection = "Command Injection"
	CategoryCodeInjection    = "Code Injection"
	CategoryPathTraversal    = "Path Traversal"
	CategorySecret           = "Hardcoded Secret"
	CategoryWeakCrypto       = "Weak Cryptography"
	CategoryDeserialization  = "Insecure Deserialization"
	CategorySSRF             = "Server-Side Request Forgery"
	CategoryTransport        = "Insecure Transport"
	CategoryRandomness       = "Insecure Randomness"
	CategoryOpenRedirect     = "Open Redirect"
	CategoryCSRF             = "Cross-Site Request Forgery"
	CategoryXXE              = "XML External Entity"
	CategoryDependency       = "Vulnerable Dependency"
	CategoryMisconfiguration = "Misconfiguration"
	CategoryGeneric          = "Security Issue"
)

var cweCategories = map[string]string{
	"22":  CategoryPathTraversal,
	"78":  CategoryCommandInjection,
	"79":  CategoryXSS,
	"89":  CategorySQLInjection,
	"94":  CategoryCodeInjection,
	"95":  CategoryCodeInjection,
	"259": CategorySecret,
	"295": CategoryTransport,
	"326": CategoryWeakCrypto,
	"327": CategoryWeakCrypto,
	"328": CategoryWeakCrypto,
	"338": CategoryRandomness,
	"352": CategoryCSRF,
	"502": CategoryDeserialization,
	"601": CategoryOpenRedirect,
	"611": CategoryXXE,
	"798": CategorySecret,
	"918": CategorySSRF,
}

type keywordRule struct {
	category string
	phrases  []string
}

// Order matters: the first rule with a matching phrase wins. Phrases match
// whole tokens of the input, in sequence; a trailing "*" matches a token
// prefix.
var keywordRules = []keywordRule{
	{CategorySQLInjection, []string{"sqli", "sql injection", "tainted sql", "formatted sql"}},
	{CategoryXSS, []string{"xss", "cross site scripting", "unescaped", "innerhtml", "dangerouslysetinnerhtml"}},
	{CategoryCommandInjection, []string{"command injection", "os command", "subprocess", "shell true", "child process", "exec injection"}},
	{CategoryCodeInjection, []string{"eval", "code injection"}},
	{CategoryPathTraversal, []string{"path traversal", "directory traversal", "zip slip", "file inclusion"}},
	{CategoryCSRF, []string{"csrf"}},
	{CategorySecret, []string{"secret*", "password*", "api key", "apikey", "token", "tokens", "credential*", "private key", "hardcoded"}},
	{CategoryWeakCrypto, []string{"md5", "sha1", "weak hash", "weak crypto", "insecure hash", "des", "3des", "rc4", "ecb"}},
	{CategoryDeserialization, []string{"deserializ*", "pickle", "yaml load", "marshal load"}},
	{CategorySSRF, []string{"ssrf", "server side request"}},
	{CategoryTransport, []string{"insecureskipverify", "tls", "ssl", "certificate*", "cleartext", "http not https"}},
	{CategoryRandomness, []string{"insecure random", "math random", "weak random"}},
	{CategoryOpenRedirect, []string{"open redirect", "unvalidated redirect"}},
	{CategoryXXE, []string{"xxe", "xml external", "external entit*"}},
}

var wordToken = regexp.MustCompile(`[a-z0-9]+`)

var cweNumber = regexp.MustCompile(`(?i)cwe[-_ ]?(\d+)`)

// Category classifies a raw tool record. Each source is tried in turn: the
// rule id, then any CWE references, then free text such as the message. When
// nothing matches, the last segment of the rule id is turned into a label.
func Category(ruleID string, cwes []string, text string) string {
	if c := matchKeywords(ruleID); c != "" {
		return c
	}
	for _, cwe := range cwes {
		if c := CategoryForCWE(cwe); c != "" {
			return c
		}
	}
	if c := matchKeywords(text); c != "" {
		return c
	}
	if label := labelFromRule(ruleID); label != "" {
		return label
	}
	return CategoryGeneric
}

func CategoryForCWE(cwe string) string {
	m := cweNumber.FindStringSubmatch(cwe)
	if m == nil {
		return ""
	}
	return cweCategories[m[1]]
}

func matchKeywords(s string) string {
	tokens := wordToken.FindAllString(strings.ToLower(s), -1)
	if len(tokens) == 0 {
		return ""
	}
	for _, rule := range keywordRules {
		for _, p := range rule.phrases {
			if containsPhrase(tokens, strings.Fields(p)) {
				return rule.category
			}
		}
	}
	return ""
}

func containsPhrase(tokens, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		matched := true
		for j, w := range phrase {
			if !tokenMatches(tokens[i+j], w) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func tokenMatches(token, word string) bool {
	if prefix, ok := strings.CutSuffix(word, "*"); ok {
		return strings.HasPrefix(token, prefix)
	}
	return token == word
}

// labelFromRule turns "python.lang.security.audit.dangerous-spawn" into
// "Dangerous Spawn". Opaque ids such as "G104" or "B608" yield "".
func labelFromRule(ruleID string) string {
	seg := ruleID
	if i := strings.LastIndexAny(seg, "./"); i >= 0 {
		seg = seg[i+1:]
	}
	seg = strings.NewReplacer("-", " ", "_", " ").Replace(seg)
	seg = strings.TrimSpace(seg)
	if len(seg) < 4 || !strings.Contains(seg, " ") {
		return ""
	}
	// Casers carry state, so one is built per call.
	return cases.Title(language.English).String(seg)
}
