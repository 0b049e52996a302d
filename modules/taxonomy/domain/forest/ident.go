package forest

import (
	"fmt"
	"strconv"
	"strings"
)

// PendingPrefix marks the storage rendering of a pending identifier. Final
// identifiers always start with an alphanumeric code base, so keys with this
// prefix cannot collide with them.
const PendingPrefix = "~p"

type identKind uint8

const (
	identNone identKind = iota
	identFinal
	identPending
)

// Ident is either a final identifier or a pending placeholder used while a
// rename batch is half applied. The zero value means "no identifier".
type Ident struct {
	kind    identKind
	final   string
	pending uint64
}

func Final(id string) Ident {
	if id == "" {
		return Ident{}
	}
	return Ident{kind: identFinal, final: id}
}

func Pending(n uint64) Ident {
	return Ident{kind: identPending, pending: n}
}

func (i Ident) IsZero() bool    { return i.kind == identNone }
func (i Ident) IsFinal() bool   { return i.kind == identFinal }
func (i Ident) IsPending() bool { return i.kind == identPending }

// Final returns the identifier only when it is final.
func (i Ident) Final() (string, bool) {
	if i.kind != identFinal {
		return "", false
	}
	return i.final, true
}

// Key is the final identifier or "".
func (i Ident) Key() string {
	return i.final
}

func (i Ident) PendingSeq() (uint64, bool) {
	if i.kind != identPending {
		return 0, false
	}
	return i.pending, true
}

// StorageKey renders the identifier for a store that only knows strings.
func (i Ident) StorageKey() string {
	switch i.kind {
	case identFinal:
		return i.final
	case identPending:
		return PendingPrefix + strconv.FormatUint(i.pending, 10)
	default:
		return ""
	}
}

func (i Ident) String() string {
	switch i.kind {
	case identFinal:
		return i.final
	case identPending:
		return fmt.Sprintf("pending(%d)", i.pending)
	default:
		return "<none>"
	}
}

// IsPendingKey reports whether a stored string is a pending rendering.
func IsPendingKey(s string) bool {
	return strings.HasPrefix(s, PendingPrefix)
}
