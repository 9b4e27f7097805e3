package executor

import (
	"strings"
	"unicode"
)

// Invocation is the result of parsing a command string into something the
// executor can spawn directly, so that it owns the PID of the real program
// rather than of a wrapping shell.
type Invocation struct {
	// Executable is the program to run. Empty when Shell is set.
	Executable string
	// Args is the raw argument text following the executable.
	Args string
	// Argv is Args split into tokens.
	Argv []string
	// Dir is the target of a leading directory change ("cd /d X && ..").
	Dir string
	// Shell means the command could not be reduced to a single program and
	// must run through the shell as a whole.
	Shell bool
	// Original is the unmodified input.
	Original string
}

// ParseCommand reduces a command string to an executable and its arguments.
//
// A leading directory change joined with "&&" is split off at the first
// "&&" and the right-hand side is parsed. A quoted executable runs to the
// closing quote; otherwise the executable ends at the first whitespace run.
// Anything the grammar cannot express directly (empty executable, other
// command chains, pipes, redirections, unterminated quotes) yields a Shell
// invocation of the whole original string.
func ParseCommand(command string) Invocation {
	shell := Invocation{Shell: true, Original: command}

	rest := strings.TrimSpace(command)
	var dir string
	if idx := strings.Index(rest, "&&"); idx >= 0 {
		target, ok := parseChdir(strings.TrimSpace(rest[:idx]))
		if !ok {
			return shell
		}
		dir = target
		rest = strings.TrimSpace(rest[idx+2:])
	}

	exe, args, ok := splitExecutable(rest)
	if !ok || exe == "" {
		return shell
	}

	argv, ok := Tokenize(args)
	if !ok {
		return shell
	}

	return Invocation{
		Executable: exe,
		Args:       args,
		Argv:       argv,
		Dir:        dir,
		Original:   command,
	}
}

// splitExecutable applies the quoted and unquoted executable rules.
func splitExecutable(s string) (exe, args string, ok bool) {
	if s == "" {
		return "", "", true
	}
	if s[0] == '"' {
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", "", false
		}
		return s[1 : 1+end], strings.TrimSpace(s[2+end:]), true
	}
	idx := strings.IndexFunc(s, unicode.IsSpace)
	if idx < 0 {
		return s, "", true
	}
	return s[:idx], strings.TrimSpace(s[idx:]), true
}

// parseChdir recognises "cd X", "cd /d X" and "pushd X" and returns X.
func parseChdir(s string) (string, bool) {
	tokens, ok := Tokenize(s)
	if !ok || len(tokens) < 2 {
		return "", false
	}
	switch strings.ToLower(tokens[0]) {
	case "cd", "chdir", "pushd":
	default:
		return "", false
	}
	rest := tokens[1:]
	if strings.EqualFold(rest[0], "/d") {
		rest = rest[1:]
	}
	if len(rest) != 1 {
		return "", false
	}
	return rest[0], true
}

// Tokenize splits s into whitespace separated tokens. Double and single
// quotes group text; inside double quotes \" is a literal quote and every
// other backslash is kept, so Windows paths survive. ok is false on an
// unterminated quote or an unquoted shell operator (| & ; < > ` $( ).
func Tokenize(s string) (tokens []string, ok bool) {
	var (
		current strings.Builder
		inToken bool
		quote   rune
	)
	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '"':
			if r == '\\' && i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune('"')
				i++
			} else if r == '"' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			flush()
		case strings.ContainsRune("|&;<>`", r):
			return nil, false
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return nil, false
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, false
	}
	flush()
	return tokens, true
}
