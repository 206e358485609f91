package core

import (
	"fmt"
	"sync"

	"github.com/thought-machine/forge/label"
)

// A Package is the set of TargetNodes declared by one build file, keyed by
// short name, plus the package-boundary information needed to check that a
// target's inputs lie within its owning package.
type Package struct {
	Cell     string
	BasePath string

	mu      sync.RWMutex
	targets map[string]*TargetNode
}

// NewPackage constructs an empty Package for the given cell/base path.
func NewPackage(cell, basePath string) *Package {
	return &Package{Cell: cell, BasePath: basePath, targets: make(map[string]*TargetNode)}
}

// AddTarget registers a resolved TargetNode under its short name. Returns
// a ParseError{Kind: "DuplicateTarget"} if the name is already taken.
func (p *Package) AddTarget(node *TargetNode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.targets[node.Target.Name]; exists {
		return &ParseError{
			Kind:     "DuplicateTarget",
			Location: fmt.Sprintf("%s//%s", p.Cell, p.BasePath),
			Message:  fmt.Sprintf("target %q declared more than once", node.Target.Name),
		}
	}
	p.targets[node.Target.Name] = node
	return nil
}

// Target returns the named target, if declared in this package.
func (p *Package) Target(name string) (*TargetNode, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.targets[name]
	return n, ok
}

// Targets returns all of this package's TargetNodes in stable (name-sorted) order.
func (p *Package) Targets() []*TargetNode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*TargetNode, 0, len(p.targets))
	for _, n := range p.targets {
		out = append(out, n)
	}
	sortNodesByName(out)
	return out
}

func sortNodesByName(nodes []*TargetNode) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].Target.Name < nodes[j-1].Target.Name; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// CheckInputPath verifies that a target's input path lies within this
// package's directory, unless boundary checking has been disabled.
func (p *Package) CheckInputPath(target label.BuildTarget, inputPath string, boundaryCheckEnabled bool) error {
	if !boundaryCheckEnabled {
		return nil
	}
	if !withinPackage(p.BasePath, inputPath) {
		return &PackageBoundaryError{Target: target, Path: inputPath}
	}
	return nil
}

func withinPackage(basePath, inputPath string) bool {
	if basePath == "" {
		return true
	}
	if len(inputPath) < len(basePath) {
		return false
	}
	if inputPath[:len(basePath)] != basePath {
		return false
	}
	return len(inputPath) == len(basePath) || inputPath[len(basePath)] == '/'
}
