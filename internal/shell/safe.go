package shell

import (
	"path"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// DefaultSafeCommands are read-only programs that may run without
// confirmation regardless of their arguments. sed, awk and find are
// absent because some of their flags write files.
var DefaultSafeCommands = []string{
	// listing
	"ls", "dir", "tree", "file", "stat", "readlink",
	// reading
	"cat", "head", "tail", "less", "more", "bat", "batcat",
	// searching
	"grep", "egrep", "fgrep", "rg", "ag", "ack",
	// text processing
	"wc", "sort", "uniq", "cut", "tr", "rev", "tac", "fold", "column",
	"nl", "expand", "unexpand", "fmt", "paste", "join",
	"diff", "comm", "cmp",
	"md5sum", "sha256sum", "sha1sum", "sha512sum", "cksum", "b2sum",
	"xxd", "od", "hexdump", "strings",
	// lookup
	"which", "whereis", "whatis", "type", "command",
	// system info
	"uname", "hostname", "uptime", "date", "cal",
	"whoami", "id", "groups", "who", "w", "last",
	"df", "du", "free", "ps", "pgrep", "pidof",
	"lsblk", "lscpu", "lsmem", "lsusb", "lspci", "lsmod", "lsof",
	"ip", "ifconfig", "ss", "netstat", "route",
	"env", "printenv",
	"nproc", "getconf", "arch",
	"pwd", "realpath", "dirname", "basename",
	"echo", "printf",
	"man", "info", "help",
	"true", "false", "test", "[",
	"jq", "yq",
}

// wrappers run another command without changing what it can do.
// sudo, doas and nohup are excluded on purpose.
var wrappers = map[string]bool{
	"time": true, "timeout": true, "nice": true, "ionice": true,
	"env": true, "stdbuf": true, "chrt": true, "taskset": true,
	"command": true, "builtin": true, "exec": true,
}

// fileWriters flag arguments that make an otherwise read-only program
// write files or change system state.
var fileWriters = map[string]func(args []string) bool{
	"sort": func(a []string) bool { return hasShortFlag(a, 'o') || hasLongFlag(a, "--output") },
	"tree": func(a []string) bool { return hasFlagPrefix(a, "-o") },
	"yq":   func(a []string) bool { return hasShortFlag(a, 'i') || hasLongFlag(a, "--inplace") },
	"info": func(a []string) bool { return hasFlagPrefix(a, "-o") || hasLongFlag(a, "--output") },
	"date": func(a []string) bool { return hasFlagPrefix(a, "-s") || hasLongFlag(a, "--set") },
	"file": func(a []string) bool { return hasShortFlag(a, 'C') || hasLongFlag(a, "--compile") },
	"uniq": func(a []string) bool {
		return len(positionals(a, "-f", "-s", "-w", "--skip-fields", "--skip-chars", "--check-chars")) > 1
	},
	"xxd": func(a []string) bool {
		return len(positionals(a, "-c", "-g", "-l", "-s", "-o", "-n", "-cols", "-len", "-seek", "-groupsize", "-name")) > 1
	},
	"hostname": func(a []string) bool {
		return len(positionals(a, "-F", "--file")) > 0 || hasFlagPrefix(a, "-F") || hasLongFlag(a, "--file")
	},
}

var assignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// SafeList is a set of command names allowed to run without confirmation.
type SafeList map[string]bool

// NewSafeList builds a list from names. With no names the defaults are used.
func NewSafeList(names ...string) SafeList {
	if len(names) == 0 {
		names = DefaultSafeCommands
	}
	s := make(SafeList, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = true
		}
	}
	return s
}

// IsSafe reports whether every command in a (possibly chained, piped or
// nested) command line is on the list and nothing writes to a file.
// Anything the parser rejects is unsafe.
func (s SafeList) IsSafe(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return true
	}

	f, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(command), "")
	if err != nil {
		return false
	}

	safe, found := true, false
	syntax.Walk(f, func(node syntax.Node) bool {
		if !safe {
			return false
		}
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				// bare assignment, e.g. FOO=bar
				return true
			}
			name, at, ok := commandName(n.Args)
			if !ok || !s[path.Base(name)] || writes(path.Base(name), n.Args[at+1:]) {
				safe = false
				return false
			}
			found = true
		case *syntax.Redirect:
			if !safeRedirect(n) {
				safe = false
				return false
			}
		case *syntax.ProcSubst:
			if n.Op == syntax.CmdOut {
				safe = false
				return false
			}
		case *syntax.FuncDecl, *syntax.IfClause, *syntax.WhileClause, *syntax.ForClause,
			*syntax.CaseClause, *syntax.DeclClause, *syntax.LetClause, *syntax.CoprocClause,
			*syntax.ArithmCmd, *syntax.TestClause:
			safe = false
			return false
		}
		return true
	})
	return safe && found
}

// commandName skips wrapper programs, their flags and leading VAR=value
// words and returns the program that actually runs with its index in
// args. Non-literal names (variables, substitutions) are rejected.
// "command -v NAME" only looks NAME up, so "command" itself is returned.
func commandName(args []*syntax.Word) (string, int, bool) {
	last, lastAt := "", -1
	i := 0
	for i < len(args) {
		lit := args[i].Lit()
		if lit == "" {
			return "", 0, false
		}
		if assignRe.MatchString(lit) {
			i++
			continue
		}
		if !wrappers[lit] {
			return lit, i, true
		}
		last, lastAt = lit, i
		i++
		for i < len(args) {
			a := args[i].Lit()
			if a == "" || !strings.HasPrefix(a, "-") {
				break
			}
			if last == "command" && strings.ContainsAny(a[1:], "vV") {
				return last, lastAt, true
			}
			i++
		}
		// timeout DURATION, nice -n PRIORITY, taskset MASK
		if last != "env" && i < len(args) && isNumberish(args[i].Lit()) {
			i++
		}
	}
	// only wrappers: the wrapper itself runs, e.g. "env"
	return last, lastAt, last != ""
}

// writes reports whether args turn name into a program that writes.
// Arguments that cannot be read statically count as writing for
// programs that have write flags.
func writes(name string, words []*syntax.Word) bool {
	check, ok := fileWriters[name]
	if !ok {
		return false
	}
	args := make([]string, 0, len(words))
	for _, w := range words {
		a, ok := wordLit(w)
		if !ok {
			return true
		}
		args = append(args, a)
	}
	return check(args)
}

// wordLit returns the value of a word made only of literal and quoted
// literal parts.
func wordLit(w *syntax.Word) (string, bool) {
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, q := range p.Parts {
				l, ok := q.(*syntax.Lit)
				if !ok {
					return "", false
				}
				b.WriteString(l.Value)
			}
		default:
			return "", false
		}
	}
	return b.String(), true
}

// flags returns the arguments before a "--" terminator.
func flags(args []string) []string {
	for i, a := range args {
		if a == "--" {
			return args[:i]
		}
	}
	return args
}

// hasShortFlag reports a short option cluster containing letter.
func hasShortFlag(args []string, letter byte) bool {
	for _, a := range flags(args) {
		if len(a) > 1 && a[0] == '-' && a[1] != '-' && strings.IndexByte(a[1:], letter) >= 0 {
			return true
		}
	}
	return false
}

func hasFlagPrefix(args []string, prefix string) bool {
	for _, a := range flags(args) {
		if strings.HasPrefix(a, prefix) && !strings.HasPrefix(a, "--") {
			return true
		}
	}
	return false
}

// hasLongFlag matches a long option given alone, with "=value" or
// abbreviated the way getopt_long accepts.
func hasLongFlag(args []string, long string) bool {
	for _, a := range flags(args) {
		if !strings.HasPrefix(a, "--") {
			continue
		}
		name, _, _ := strings.Cut(a, "=")
		if len(name) > 2 && strings.HasPrefix(long, name) {
			return true
		}
	}
	return false
}

// positionals returns non-option arguments. Options listed in valued
// consume the following argument when given without "=".
func positionals(args []string, valued ...string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return append(out, args[i+1:]...)
		}
		if len(a) > 1 && a[0] == '-' {
			for _, v := range valued {
				if a == v {
					i++
					break
				}
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

func isNumberish(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789.xabcdefABCDEFsmhd", r) {
			return false
		}
	}
	return true
}

func safeRedirect(r *syntax.Redirect) bool {
	target := ""
	if r.Word != nil {
		target = r.Word.Lit()
	}
	switch r.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut:
		return target == "/dev/null"
	case syntax.DplOut:
		return target == "/dev/null" || target == "-" || isDigits(target)
	case syntax.RdrInOut:
		return false
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
