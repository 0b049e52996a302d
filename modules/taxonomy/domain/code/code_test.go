package code

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToken_LettersAreBijectiveAtEvenDepths(t *testing.T) {
	want := []string{}
	for c := 'a'; c <= 'z'; c++ {
		want = append(want, string(c))
	}
	for c := 'a'; c <= 'z'; c++ {
		want = append(want, "a"+string(c))
	}

	for _, depth := range []int{2, 4, 6} {
		seen := map[string]struct{}{}
		for i := 0; i < 52; i++ {
			tok, err := Token(depth, i)
			require.NoError(t, err)
			require.Equal(t, want[i], tok, "depth=%d index=%d", depth, i)
			_, dup := seen[tok]
			require.False(t, dup, "duplicate token %q", tok)
			seen[tok] = struct{}{}
		}
	}
}

func TestToken_NumbersAtOddDepths(t *testing.T) {
	for _, depth := range []int{3, 5} {
		for i := 0; i < 9; i++ {
			tok, err := Token(depth, i)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("0%d", i+1), tok)
		}
		tok, err := Token(depth, 10)
		require.NoError(t, err)
		require.Equal(t, "11", tok)

		tok, err = Token(depth, MaxNumericIndex)
		require.NoError(t, err)
		require.Equal(t, "99", tok)
	}
}

func TestToken_RejectsOutOfRange(t *testing.T) {
	_, err := Token(3, 99)
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, 3, rangeErr.Depth)
	require.Equal(t, 99, rangeErr.Index)

	_, err = Token(2, -1)
	require.ErrorAs(t, err, &rangeErr)

	_, err = Token(1, 0)
	require.ErrorIs(t, err, ErrRootToken)

	_, err = Token(0, 0)
	require.ErrorIs(t, err, ErrInvalidDepth)
}

func TestToken_DeepLetterSequences(t *testing.T) {
	cases := map[int]string{
		0:   "a",
		25:  "z",
		26:  "aa",
		51:  "az",
		52:  "ba",
		701: "zz",
		702: "aaa",
	}
	for index, want := range cases {
		got, err := Token(4, index)
		require.NoError(t, err)
		require.Equal(t, want, got)

		back, err := TokenIndex(4, got)
		require.NoError(t, err)
		require.Equal(t, index, back)
	}
}

func TestTokenIndex_RoundTripsNumbers(t *testing.T) {
	for i := 0; i <= MaxNumericIndex; i++ {
		tok, err := Token(5, i)
		require.NoError(t, err)
		got, err := TokenIndex(5, tok)
		require.NoError(t, err)
		require.Equal(t, i, got)
	}
}

func TestTokenIndex_RejectsWrongAlphabet(t *testing.T) {
	for _, tc := range []struct {
		depth int
		token string
	}{
		{2, "01"},
		{3, "a"},
		{3, "1"},
		{3, "00"},
		{4, "A"},
		{5, "123"},
		{2, ""},
	} {
		_, err := TokenIndex(tc.depth, tc.token)
		require.ErrorIs(t, err, ErrMalformed, "depth=%d token=%q", tc.depth, tc.token)
	}
}

func mustRoot(t *testing.T, base string) Code {
	t.Helper()
	c, err := Root(base)
	require.NoError(t, err)
	return c
}

func TestCode_ChildAndString(t *testing.T) {
	root := mustRoot(t, "B07")
	shell, err := root.Child(1)
	require.NoError(t, err)
	require.Equal(t, "B07b", shell.String())
	require.Equal(t, 2, shell.Depth())

	garage, err := shell.Child(10)
	require.NoError(t, err)
	require.Equal(t, "B07b11", garage.String())

	slab, err := garage.Child(0)
	require.NoError(t, err)
	require.Equal(t, "B07b11a", slab.String())
	require.Equal(t, "a", slab.Last())

	idx, err := TokenIndex(garage.Depth(), garage.Last())
	require.NoError(t, err)
	require.Equal(t, 10, idx)

	parent, ok := slab.Parent()
	require.True(t, ok)
	require.True(t, parent.Equal(garage))
}

func TestCode_RebaseReplacesTokensNotSubstrings(t *testing.T) {
	root := mustRoot(t, "B07")
	b := root.Append("b")
	oldPrefix := b.Append("11")
	newPrefix := b.Append("02")

	desc := oldPrefix.Append("a").Append("01")
	got, ok := desc.Rebase(oldPrefix, newPrefix)
	require.True(t, ok)
	require.Equal(t, "B07b02a01", got.String())

	// "B07b1" + "1a" must not be treated as a descendant of "B07b11" just
	// because the strings line up.
	other := root.Append("b").Append("01").Append("a")
	_, ok = other.Rebase(oldPrefix, newPrefix)
	require.False(t, ok)

	_, ok = desc.Rebase(oldPrefix, b)
	require.False(t, ok, "prefixes at different depths cannot be swapped")
}

func TestDecompose(t *testing.T) {
	root := mustRoot(t, "B07")
	c, err := Decompose(root, "B07aa", 2)
	require.NoError(t, err)
	require.Equal(t, "B07aa", c.String())
	require.Equal(t, 2, c.Depth())

	c3, err := Decompose(c, "B07aa03", 3)
	require.NoError(t, err)
	require.Equal(t, "B07aa03", c3.String())

	_, err = Decompose(c, "B07ab03", 3)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decompose(c, "B07aa3", 3)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decompose(c, "B07aa03", 4)
	require.True(t, errors.Is(err, ErrInvalidDepth))
}

func TestSplitID(t *testing.T) {
	c, name, ok := SplitID("B07b11-Attached garage")
	require.True(t, ok)
	require.Equal(t, "B07b11", c)
	require.Equal(t, "Attached garage", name)

	c, name, ok = SplitID("B05e-Paving - transportation")
	require.True(t, ok)
	require.Equal(t, "B05e", c)
	require.Equal(t, "Paving - transportation", name)

	_, _, ok = SplitID("B07")
	require.False(t, ok)
}

func TestCode_Validate(t *testing.T) {
	require.NoError(t, mustRoot(t, "B07").Append("b").Append("11").Validate())
	require.ErrorIs(t, mustRoot(t, "B07").Append("11").Validate(), ErrMalformed)

	_, err := Root("B-07")
	require.ErrorIs(t, err, ErrMalformed)
}
