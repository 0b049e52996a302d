package forest

import (
	"maps"

	"github.com/shopspring/decimal"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/code"
)

// Attributes are carried through every transform untouched.
type Attributes struct {
	Description    string
	StageID        string
	Unit           string
	Cadence        string
	Notes          string
	Assumptions    string
	UniformatCode  string
	Estimate       decimal.NullDecimal
	AnnualEstimate decimal.NullDecimal
	IsComputed     bool
	// Extra holds source columns this tool does not know about.
	Extra map[string]string
}

func (a Attributes) Clone() Attributes {
	out := a
	if a.Extra != nil {
		out.Extra = maps.Clone(a.Extra)
	}
	return out
}

type Node struct {
	ID        Ident
	ParentID  Ident
	Depth     int
	SortOrder int
	ShortName string
	Code      code.Code
	Attrs     Attributes
}

func (n Node) IsRoot() bool { return n.ParentID.IsZero() }

// Key is the node's final identifier, "" while it is pending.
func (n Node) Key() string { return n.ID.Key() }

// ExpectedID is the identifier the node's code and short name spell out.
func (n Node) ExpectedID() string {
	if n.Code.IsZero() {
		return ""
	}
	return code.FormatID(n.Code, n.ShortName)
}

func (n Node) Clone() Node {
	out := n
	out.Attrs = n.Attrs.Clone()
	return out
}

// Record is the flat, string-keyed shape of a node as stored in tables.
type Record struct {
	Line      int
	ID        string
	ParentID  string
	Depth     int
	SortOrder int
	ShortName string
	Attrs     Attributes
}

func (n Node) Record() Record {
	return Record{
		ID:        n.ID.StorageKey(),
		ParentID:  n.ParentID.StorageKey(),
		Depth:     n.Depth,
		SortOrder: n.SortOrder,
		ShortName: n.ShortName,
		Attrs:     n.Attrs.Clone(),
	}
}
