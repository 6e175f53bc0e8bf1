package shell

import (
	"regexp"
	"strings"
)

// destructive substrings, matched against the lower-cased command
var destructive = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"mkfs.",
	"dd if=/dev/",
	":(){:|:&};:",
	"> /dev/sd",
	"chmod -r 777 /",
	"shutdown",
	"reboot",
	"init 0",
	"init 6",
	"find / -delete",
	"find / -exec rm",
}

var exfil = []string{"/dev/tcp/", "/dev/udp/"}

var obfuscated = []*regexp.Regexp{
	regexp.MustCompile(`base64\s+(-d|--decode)\s*\|\s*(bash|sh|zsh|exec)`),
	regexp.MustCompile(`xxd\s+-r.*\|\s*(bash|sh|zsh|exec)`),
	regexp.MustCompile(`printf\s+.*\\x[0-9a-fA-F].*\|\s*(bash|sh|zsh|exec)`),
	regexp.MustCompile(`(curl|wget)\s+.*\|\s*(sudo\s+)?(bash|sh|zsh)`),
	regexp.MustCompile(`r\\m\s|s\\hutdown|re\\boot|mk\\fs`),
	regexp.MustCompile(`\$'\\x[0-9a-fA-F]{2}`),
	regexp.MustCompile(`eval\s+.*\$`),
}

// Danger returns a short warning when command matches a known destructive,
// exfiltrating or obfuscated pattern, and "" otherwise. A warning never
// blocks a command; it only disables automatic approval.
func Danger(command string) string {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, p := range destructive {
		if strings.Contains(lower, p) {
			return "destructive pattern " + `"` + p + `"`
		}
	}
	for _, p := range exfil {
		if strings.Contains(command, p) {
			return "raw network device " + p
		}
	}
	for _, re := range obfuscated {
		if re.MatchString(command) {
			return "obfuscated or piped-to-shell execution"
		}
	}
	return ""
}
