package code

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// MaxDepth is the deepest level a taxonomy node may sit at.
	MaxDepth = 6
	// MaxNumericIndex is the last sibling index a 2-digit token can carry ("99").
	MaxNumericIndex = 98

	maxLetterTokenLen = 6
)

var (
	ErrRootToken    = errors.New("depth 1 has no generated token")
	ErrInvalidDepth = errors.New("invalid depth")
	ErrMalformed    = errors.New("malformed code")
)

// RangeError reports a sibling index that cannot be rendered for its depth.
type RangeError struct {
	Depth int
	Index int
}

func (e *RangeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("negative sibling index %d at depth %d", e.Index, e.Depth)
	}
	return fmt.Sprintf("sibling index %d at depth %d exceeds numeric token range 01..99", e.Index, e.Depth)
}

// IsLetterDepth reports whether tokens at depth are letter sequences.
// Odd depths above 1 carry 2-digit numbers.
func IsLetterDepth(depth int) bool {
	return depth%2 == 0
}

// Token renders the 0-based sibling index for a node at depth.
// Even depths use bijective base-26 letters (a..z, aa, ab, ...), odd depths
// above 1 use 01-based 2-digit numbers.
func Token(depth, index int) (string, error) {
	if depth < 1 {
		return "", fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	if depth == 1 {
		return "", ErrRootToken
	}
	if index < 0 {
		return "", &RangeError{Depth: depth, Index: index}
	}
	if IsLetterDepth(depth) {
		return letters(index), nil
	}
	if index > MaxNumericIndex {
		return "", &RangeError{Depth: depth, Index: index}
	}
	return fmt.Sprintf("%02d", index+1), nil
}

func letters(index int) string {
	n := index + 1
	buf := make([]byte, 0, 2)
	for n > 0 {
		n--
		buf = append(buf, byte('a'+n%26))
		n /= 26
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// TokenIndex is the inverse of Token.
func TokenIndex(depth int, token string) (int, error) {
	if depth < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	if depth == 1 {
		return 0, ErrRootToken
	}
	if token == "" {
		return 0, fmt.Errorf("%w: empty token at depth %d", ErrMalformed, depth)
	}
	if IsLetterDepth(depth) {
		if len(token) > maxLetterTokenLen {
			return 0, fmt.Errorf("%w: token %q too long", ErrMalformed, token)
		}
		n := 0
		for i := 0; i < len(token); i++ {
			c := token[i]
			if c < 'a' || c > 'z' {
				return 0, fmt.Errorf("%w: token %q at depth %d must be lowercase letters", ErrMalformed, token, depth)
			}
			n = n*26 + int(c-'a') + 1
		}
		return n - 1, nil
	}
	if len(token) != 2 || !isDigit(token[0]) || !isDigit(token[1]) {
		return 0, fmt.Errorf("%w: token %q at depth %d must be two digits", ErrMalformed, token, depth)
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("%w: token %q at depth %d must be 01..99", ErrMalformed, token, depth)
	}
	return v - 1, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
