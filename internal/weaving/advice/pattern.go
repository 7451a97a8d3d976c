package advice

import (
	"fmt"
	"regexp"
	"strings"
)

// AnyRemaining is the argument pattern token that absorbs zero or more
// arguments.
const AnyRemaining = ".."

// AnyOne is the argument pattern token that matches exactly one argument of
// any type.
const AnyOne = "*"

// TypePattern matches type names. A trailing '*' matches any suffix,
// including further segments; an embedded '*' matches any run of characters
// within one dot-separated segment.
type TypePattern struct {
	text  string
	exact bool
	re    *regexp.Regexp
}

// CompileTypePattern compiles a type-name pattern.
func CompileTypePattern(text string) (*TypePattern, error) {
	if text == "" {
		return nil, fmt.Errorf("empty type pattern")
	}
	if strings.Contains(text, "**") {
		return nil, fmt.Errorf("consecutive wildcards in %q", text)
	}
	if !strings.Contains(text, "*") {
		return &TypePattern{text: text, exact: true}, nil
	}

	body := text
	trailing := strings.HasSuffix(body, "*")
	if trailing {
		body = body[:len(body)-1]
	}
	parts := strings.Split(body, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, `[^.]*`)
	if trailing {
		expr += ".*"
	}
	re, err := regexp.Compile(expr + "$")
	if err != nil {
		return nil, err
	}
	return &TypePattern{text: text, re: re}, nil
}

// MustCompileTypePattern is like CompileTypePattern but panics on error.
func MustCompileTypePattern(text string) *TypePattern {
	p, err := CompileTypePattern(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether name matches the pattern.
func (p *TypePattern) Match(name string) bool {
	if p.exact {
		return name == p.text
	}
	return p.re.MatchString(name)
}

func (p *TypePattern) String() string { return p.text }

// NamePattern matches method names. Alternatives are separated by '|' and
// each may use '*' for any run of characters.
type NamePattern struct {
	text  string
	exact map[string]bool
	res   []*regexp.Regexp
}

// CompileNamePattern compiles a method-name pattern.
func CompileNamePattern(text string) (*NamePattern, error) {
	p := &NamePattern{text: text, exact: map[string]bool{}}
	for _, alt := range strings.Split(text, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return nil, fmt.Errorf("empty alternative in %q", text)
		}
		if !strings.Contains(alt, "*") {
			p.exact[alt] = true
			continue
		}
		parts := strings.Split(alt, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
		if err != nil {
			return nil, err
		}
		p.res = append(p.res, re)
	}
	return p, nil
}

// Match reports whether name matches any alternative.
func (p *NamePattern) Match(name string) bool {
	if p.exact[name] {
		return true
	}
	for _, re := range p.res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (p *NamePattern) String() string { return p.text }

// ArgsPattern matches ordered argument type lists. Positions match by exact
// type identity, AnyOne matches a single argument, and AnyRemaining absorbs
// zero or more arguments wherever it appears.
type ArgsPattern struct {
	tokens []string
}

// CompileArgsPattern compiles an argument pattern list.
func CompileArgsPattern(tokens []string) (*ArgsPattern, error) {
	for _, t := range tokens {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("empty argument pattern")
		}
	}
	return &ArgsPattern{tokens: append([]string(nil), tokens...)}, nil
}

// Match reports whether args satisfies the pattern.
func (p *ArgsPattern) Match(args []string) bool {
	return matchArgs(p.tokens, args)
}

func matchArgs(tokens, args []string) bool {
	for len(tokens) > 0 {
		tok := tokens[0]
		if tok == AnyRemaining {
			rest := tokens[1:]
			if len(rest) == 0 {
				return true
			}
			for skip := 0; skip <= len(args); skip++ {
				if matchArgs(rest, args[skip:]) {
					return true
				}
			}
			return false
		}
		if len(args) == 0 {
			return false
		}
		if tok != AnyOne && tok != args[0] {
			return false
		}
		tokens, args = tokens[1:], args[1:]
	}
	return len(args) == 0
}

func (p *ArgsPattern) String() string {
	return "[" + strings.Join(p.tokens, ", ") + "]"
}

// ReturnPattern matches return type names. The empty pattern matches any
// type. A pattern ending in '.' matches types declared directly in that
// namespace and nothing in nested namespaces; any other pattern must match
// exactly.
type ReturnPattern struct {
	text string
}

// CompileReturnPattern compiles a return-type pattern.
func CompileReturnPattern(text string) (*ReturnPattern, error) {
	if text == "." {
		return nil, fmt.Errorf("namespace pattern %q names no namespace", text)
	}
	return &ReturnPattern{text: text}, nil
}

// Match reports whether t matches the pattern.
func (p *ReturnPattern) Match(t string) bool {
	switch {
	case p.text == "":
		return true
	case strings.HasSuffix(p.text, "."):
		rest, ok := strings.CutPrefix(t, p.text)
		return ok && rest != "" && !strings.Contains(rest, ".")
	default:
		return t == p.text
	}
}

func (p *ReturnPattern) String() string { return p.text }
