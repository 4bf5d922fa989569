package flow

import (
	"fmt"
	"math/rand"
)

// Searcher represents a strategy for choosing the next snapshot to execute.
type Searcher interface {
	// Returns the next snapshot to execute or nil if none remain.
	SelectSnapshot() *Snapshot

	// Adds the successors of a snapshot in execution order.
	AddSnapshots(a ...*Snapshot)

	// Returns the number of pending snapshots.
	Len() int
}

// NewSearcher returns a searcher for the given strategy name.
func NewSearcher(name string) (Searcher, error) {
	switch name {
	case "", "dfs":
		return NewDFSSearcher(), nil
	case "bfs":
		return NewBFSSearcher(), nil
	default:
		return nil, fmt.Errorf("invalid search strategy: %q", name)
	}
}

var (
	_ Searcher = (*DFSSearcher)(nil)
	_ Searcher = (*BFSSearcher)(nil)
	_ Searcher = (*RandomSearcher)(nil)
)

// DFSSearcher represents a searcher with a depth-first search strategy.
// The first of several successors added together is selected first.
type DFSSearcher struct {
	snapshots []*Snapshot
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectSnapshot returns the next snapshot to explore.
func (s *DFSSearcher) SelectSnapshot() *Snapshot {
	if len(s.snapshots) == 0 {
		return nil
	}
	snapshot := s.snapshots[len(s.snapshots)-1]
	s.snapshots = s.snapshots[:len(s.snapshots)-1]
	return snapshot
}

// AddSnapshots adds snapshots to the searcher.
func (s *DFSSearcher) AddSnapshots(a ...*Snapshot) {
	for i := len(a) - 1; i >= 0; i-- {
		s.snapshots = append(s.snapshots, a[i])
	}
}

// Len returns the number of pending snapshots.
func (s *DFSSearcher) Len() int { return len(s.snapshots) }

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	snapshots []*Snapshot
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectSnapshot returns the next snapshot to explore.
func (s *BFSSearcher) SelectSnapshot() *Snapshot {
	if len(s.snapshots) == 0 {
		return nil
	}
	snapshot := s.snapshots[0]
	s.snapshots[0] = nil
	s.snapshots = s.snapshots[1:]
	return snapshot
}

// AddSnapshots adds snapshots to the searcher.
func (s *BFSSearcher) AddSnapshots(a ...*Snapshot) {
	s.snapshots = append(s.snapshots, a...)
}

// Len returns the number of pending snapshots.
func (s *BFSSearcher) Len() int { return len(s.snapshots) }

// RandomSearcher selects a pending snapshot at random.
type RandomSearcher struct {
	snapshots []*Snapshot
	rand      *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{
		rand: rand,
	}
}

// SelectSnapshot returns a random snapshot to explore.
func (s *RandomSearcher) SelectSnapshot() *Snapshot {
	if len(s.snapshots) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.snapshots))
	snapshot := s.snapshots[i]
	s.snapshots = append(s.snapshots[:i], s.snapshots[i+1:]...)
	return snapshot
}

// AddSnapshots adds snapshots to the searcher.
func (s *RandomSearcher) AddSnapshots(a ...*Snapshot) {
	s.snapshots = append(s.snapshots, a...)
}

// Len returns the number of pending snapshots.
func (s *RandomSearcher) Len() int { return len(s.snapshots) }
