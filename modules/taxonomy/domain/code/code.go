package code

import (
	"fmt"
	"regexp"
	"strings"
)

var baseRegex = regexp.MustCompile(`^[A-Za-z0-9]{1,24}$`)

// Code is the structural part of a node identifier: an externally assigned
// base (the depth-1 code) followed by one token per deeper level.
type Code struct {
	base   string
	tokens []string
}

// Root builds the code of a depth-1 node.
func Root(base string) (Code, error) {
	if !baseRegex.MatchString(base) {
		return Code{}, fmt.Errorf("%w: invalid base %q", ErrMalformed, base)
	}
	return Code{base: base}, nil
}

func (c Code) IsZero() bool { return c.base == "" }

func (c Code) Base() string { return c.base }

// Depth is 1 for a root code.
func (c Code) Depth() int {
	if c.IsZero() {
		return 0
	}
	return 1 + len(c.tokens)
}

// Last returns the final token, or the base for a root code.
func (c Code) Last() string {
	if len(c.tokens) == 0 {
		return c.base
	}
	return c.tokens[len(c.tokens)-1]
}

func (c Code) String() string {
	if len(c.tokens) == 0 {
		return c.base
	}
	var b strings.Builder
	b.WriteString(c.base)
	for _, t := range c.tokens {
		b.WriteString(t)
	}
	return b.String()
}

func (c Code) Equal(o Code) bool {
	if c.base != o.base || len(c.tokens) != len(o.tokens) {
		return false
	}
	for i := range c.tokens {
		if c.tokens[i] != o.tokens[i] {
			return false
		}
	}
	return true
}

// Append returns c extended by a raw token. The token is not checked against
// the depth alphabet; callers that need validation use Child or Decompose.
func (c Code) Append(token string) Code {
	tokens := make([]string, len(c.tokens)+1)
	copy(tokens, c.tokens)
	tokens[len(c.tokens)] = token
	return Code{base: c.base, tokens: tokens}
}

// Child returns the code of the sibling at the given 0-based index below c.
func (c Code) Child(index int) (Code, error) {
	if c.IsZero() {
		return Code{}, fmt.Errorf("%w: child of empty code", ErrMalformed)
	}
	tok, err := Token(c.Depth()+1, index)
	if err != nil {
		return Code{}, err
	}
	return c.Append(tok), nil
}

func (c Code) Parent() (Code, bool) {
	if len(c.tokens) == 0 {
		return Code{}, false
	}
	return Code{base: c.base, tokens: c.tokens[:len(c.tokens)-1 : len(c.tokens)-1]}, true
}

// HasPrefix compares token by token, never by string.
func (c Code) HasPrefix(p Code) bool {
	if c.base != p.base || len(p.tokens) > len(c.tokens) {
		return false
	}
	for i := range p.tokens {
		if c.tokens[i] != p.tokens[i] {
			return false
		}
	}
	return true
}

// Rebase swaps the ancestor prefix old for next, keeping the tokens below it.
// Both prefixes must sit at the same depth so that the kept tokens stay valid.
func (c Code) Rebase(old, next Code) (Code, bool) {
	if !c.HasPrefix(old) || old.Depth() != next.Depth() {
		return Code{}, false
	}
	rest := c.tokens[len(old.tokens):]
	tokens := make([]string, 0, len(next.tokens)+len(rest))
	tokens = append(tokens, next.tokens...)
	tokens = append(tokens, rest...)
	return Code{base: next.base, tokens: tokens}, true
}

// Validate checks every token against the alphabet of its depth.
func (c Code) Validate() error {
	if !baseRegex.MatchString(c.base) {
		return fmt.Errorf("%w: invalid base %q", ErrMalformed, c.base)
	}
	if c.Depth() > MaxDepth {
		return fmt.Errorf("%w: depth %d exceeds %d", ErrMalformed, c.Depth(), MaxDepth)
	}
	for i, t := range c.tokens {
		if _, err := TokenIndex(i+2, t); err != nil {
			return err
		}
	}
	return nil
}

// Decompose splits s into parent's tokens plus the single token of a node at
// depth. It is the inverse of parent.Child.
func Decompose(parent Code, s string, depth int) (Code, error) {
	if parent.IsZero() {
		return Code{}, fmt.Errorf("%w: empty parent code for %q", ErrMalformed, s)
	}
	if depth != parent.Depth()+1 {
		return Code{}, fmt.Errorf("%w: depth %d under parent depth %d", ErrInvalidDepth, depth, parent.Depth())
	}
	prefix := parent.String()
	if !strings.HasPrefix(s, prefix) {
		return Code{}, fmt.Errorf("%w: %q does not extend parent code %q", ErrMalformed, s, prefix)
	}
	tok := s[len(prefix):]
	if _, err := TokenIndex(depth, tok); err != nil {
		return Code{}, err
	}
	return parent.Append(tok), nil
}

// SplitID separates "{code}-{short_name}". Codes never contain '-', short
// names may.
func SplitID(id string) (codePart, shortName string, ok bool) {
	i := strings.IndexByte(id, '-')
	if i <= 0 {
		return id, "", false
	}
	return id[:i], id[i+1:], true
}

func FormatID(c Code, shortName string) string {
	return c.String() + "-" + shortName
}
