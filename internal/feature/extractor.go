// Package feature turns raw command text into fixed-size numeric
// feature vectors. Extraction is a pure function of the input: the same
// command always yields the same vector regardless of call order or
// concurrency.
package feature

import (
	"math"
	"strings"
	"unicode"

	"lurecage/internal/schema"
)

// Feature vector layout. Indices are stable; the scorer and trainer
// depend on the dimensionality, not the meaning.
const (
	idxLength       = 0  // character count
	idxTokens       = 1  // whitespace-separated token count
	idxEntropy      = 2  // Shannon entropy of the character distribution
	idxNonAlnum     = 3  // ratio of non-alphanumeric, non-space characters
	idxDigits       = 4  // digit count
	idxUppercase    = 5  // uppercase letter count
	idxPathDepth    = 6  // number of '/' separators
	idxLongestToken = 7  // length of the longest token
	idxDestructive  = 8  // destructive operation keyword present
	idxCredential   = 9  // credential-file access keyword present
	idxPrivesc      = 10 // privilege escalation keyword present
	idxNetwork      = 11 // network-tool invocation keyword present
	idxInlineExec   = 12 // inline code execution keyword present
	idxPersistence  = 13 // persistence mechanism keyword present
)

// category is a named set of lowercase keywords matched by substring.
type category struct {
	name     string
	index    int
	keywords []string
}

var categories = []category{
	{"destructive", idxDestructive, []string{
		"rm -rf", "rm -fr", "mkfs", "dd if=", "shred", ":(){",
		"kill -9", "killall", "pkill", "systemctl stop", "> /dev/sd",
		"truncate -s 0",
	}},
	{"credential_access", idxCredential, []string{
		"/etc/passwd", "/etc/shadow", "id_rsa", "id_ed25519",
		"authorized_keys", ".bash_history", "credentials", ".netrc",
		"passwd ", "htpasswd",
	}},
	{"privilege_escalation", idxPrivesc, []string{
		"sudo", "su -", "su root", "pkexec", "doas", "setuid",
		"chmod 777", "chmod u+s", "visudo",
	}},
	{"network_tool", idxNetwork, []string{
		"nmap", "masscan", "zmap", "nc ", "netcat", "ncat", "curl",
		"wget", "scp ", "rsync", "telnet", "tcpdump", "hydra",
	}},
	{"inline_exec", idxInlineExec, []string{
		"python -c", "python3 -c", "perl -e", "ruby -e", "bash -c",
		"sh -c", "eval ", "base64 -d", "| sh", "| bash", "$(", "`",
	}},
	{"persistence", idxPersistence, []string{
		"crontab", ".bashrc", ".profile", "rc.local",
		"systemctl enable", "ssh-copy-id", "ld.so.preload",
	}},
}

// Extract computes the feature vector for a command.
func Extract(command string) schema.FeatureVector {
	var v schema.FeatureVector

	runes := []rune(command)
	v[idxLength] = float64(len(runes))

	tokens := strings.Fields(command)
	v[idxTokens] = float64(len(tokens))
	longest := 0
	for _, tok := range tokens {
		if n := len([]rune(tok)); n > longest {
			longest = n
		}
	}
	v[idxLongestToken] = float64(longest)

	v[idxEntropy] = entropy(runes)

	var nonAlnum, digits, upper, slashes int
	for _, r := range runes {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsUpper(r):
			upper++
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			nonAlnum++
		}
		if r == '/' {
			slashes++
		}
	}
	if len(runes) > 0 {
		v[idxNonAlnum] = float64(nonAlnum) / float64(len(runes))
	}
	v[idxDigits] = float64(digits)
	v[idxUppercase] = float64(upper)
	v[idxPathDepth] = float64(slashes)

	lower := strings.ToLower(command)
	for _, cat := range categories {
		if matchesAny(lower, cat.keywords) {
			v[cat.index] = 1
		}
	}

	return v
}

// Keywords returns every category keyword found in the command, for
// alert and analysis context. Deterministic: categories and keywords
// are scanned in a fixed order.
func Keywords(command string) []string {
	lower := strings.ToLower(command)
	var found []string
	for _, cat := range categories {
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, strings.TrimSpace(kw))
			}
		}
	}
	return found
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// entropy computes the Shannon entropy of the rune distribution in bits.
func entropy(runes []rune) float64 {
	if len(runes) == 0 {
		return 0
	}
	counts := make(map[rune]int, len(runes))
	for _, r := range runes {
		counts[r]++
	}
	total := float64(len(runes))
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}
