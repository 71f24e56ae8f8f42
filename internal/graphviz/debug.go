// Package graphviz renders the multiplexer's live subscription table as
// a human-readable tree, grounded on the teacher's graph-debug
// extension but rewired onto subscription ref-counts instead of
// dependency-injection executors.
package graphviz

import (
	"fmt"
	"sort"

	"github.com/m1gwings/treedrawer/tree"

	"github.com/sylphxai/lens-go/multiplex"
)

// Snapshotter is satisfied by *multiplex.Multiplexer; kept as an
// interface so tests can supply a fixed snapshot without a live
// multiplexer.
type Snapshotter interface {
	Snapshot() []multiplex.RecordSnapshot
}

// Render draws every tracked record as a subtree under a synthetic root,
// one child per field carrying its live ref count, in the teacher's
// horizontal-tree style (spec §9 "debug introspection").
func Render(m Snapshotter) string {
	records := m.Snapshot()
	if len(records) == 0 {
		return "(empty - no tracked subscriptions)"
	}

	root := tree.NewTree(tree.NodeString("Subscriptions"))
	byEntity := make(map[string][]multiplex.RecordSnapshot)
	entityOrder := make([]string, 0)
	for _, rec := range records {
		if _, seen := byEntity[rec.Entity]; !seen {
			entityOrder = append(entityOrder, rec.Entity)
		}
		byEntity[rec.Entity] = append(byEntity[rec.Entity], rec)
	}
	sort.Strings(entityOrder)

	for _, entity := range entityOrder {
		entityNode := root.AddChild(tree.NodeString(entity))
		for _, rec := range byEntity[entity] {
			label := rec.ID
			if rec.FullRefs > 0 {
				label += fmt.Sprintf(" (full x%d)", rec.FullRefs)
			}
			recNode := entityNode.AddChild(tree.NodeString(label))
			for _, field := range rec.Fields {
				recNode.AddChild(tree.NodeString(fmt.Sprintf("%s (x%d)", field, rec.FieldRefs[field])))
			}
		}
	}

	return root.String()
}
