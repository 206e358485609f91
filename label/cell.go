package label

import (
	"fmt"
	"sort"
)

// A Cell is a named root of the source repository with its own
// configuration and build-file name. Cells form a static
// map; exactly one is the root cell; cross-cell references are explicit
// via cell name in a BuildTarget's Cell field.
type Cell struct {
	// Name is the cell's namespace, "" for the root cell.
	Name string
	// Root is the filesystem path of the cell, relative to the overall
	// workspace root (or absolute).
	Root string
	// BuildFileNames are the filenames the evaluator looks for in each
	// package directory of this cell, tried in order (e.g. "BUILD", "BUILD.plz").
	BuildFileNames []string
}

// A CellMap is the static, immutable set of cells known to a command.
type CellMap struct {
	cells    map[string]Cell
	rootName string
}

// NewCellMap constructs a CellMap. root is the name of the root cell (may
// be "").
func NewCellMap(root Cell, others ...Cell) *CellMap {
	m := &CellMap{cells: make(map[string]Cell, len(others)+1), rootName: root.Name}
	m.cells[root.Name] = root
	for _, c := range others {
		m.cells[c.Name] = c
	}
	return m
}

// Get returns the named cell, or an error if it is not declared.
func (m *CellMap) Get(name string) (Cell, error) {
	c, ok := m.cells[name]
	if !ok {
		return Cell{}, fmt.Errorf("unknown cell %q", name)
	}
	return c, nil
}

// Root returns the root cell.
func (m *CellMap) Root() Cell {
	return m.cells[m.rootName]
}

// Names returns the known cell names in stable (sorted) order, root first.
func (m *CellMap) Names() []string {
	names := make([]string, 0, len(m.cells))
	names = append(names, m.rootName)
	for name := range m.cells {
		if name != m.rootName {
			names = append(names, name)
		}
	}
	sort.Strings(names[1:])
	return names
}
