package services

import (
	"fmt"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
)

// Flatten turns the forest back into denormalized rows, one per leaf below a
// root, walking siblings in sort order. Synthesizing the rows again under the
// same roots yields the same identifiers for a forest with canonical codes.
func Flatten(f *forest.Forest) ([]DrilldownRow, error) {
	idx := f.Index()
	var rows []DrilldownRow
	var walk func(group string, chain []string, n forest.Node) error
	walk = func(group string, chain []string, n forest.Node) error {
		kids := idx.Children(n.ID)
		if len(kids) == 0 {
			if len(chain) == 0 {
				return nil
			}
			if len(chain) > LevelColumns {
				return newServiceError(CodeInvalidRequest, fmt.Sprintf("%s is deeper than %d levels", n.Key(), LevelColumns), nil)
			}
			row := DrilldownRow{Line: len(rows) + 2, Group: group}
			copy(row.Levels[:], chain)
			rows = append(rows, row)
			return nil
		}
		for _, k := range kids {
			next := append(chain[:len(chain):len(chain)], k.ShortName)
			if err := walk(group, next, k); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range idx.Roots() {
		if err := walk(r.Key(), nil, r); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
