// Package graph validates proposed pipeline graphs.
//
// Version 1 pipelines are a single linear chain. The validator checks the
// chain rules in a fixed order, stops at the first violation and, on success,
// returns the canonical execution order. It has no side effects and can be
// called any number of times.
package graph

import (
	"fmt"

	"github.com/aescanero/conduit/pkg/domain"
)

// Validator validates pipeline stage graphs
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks stages and edges against the linear chain rules and
// returns the stages in canonical order.
func (v *Validator) Validate(stages []domain.Stage, edges []domain.Edge) ([]domain.Stage, error) {
	if len(stages) == 0 {
		return nil, domain.NewGraphError(domain.GraphReasonEmpty, "", "pipeline must have at least one stage")
	}

	byID := make(map[string]int, len(stages))
	for i, st := range stages {
		if _, exists := byID[st.StageID]; exists {
			return nil, domain.NewGraphError(domain.GraphReasonDuplicateID, st.StageID, "stage ids must be unique")
		}
		byID[st.StageID] = i
	}

	for _, e := range edges {
		if _, exists := byID[e.Source]; !exists {
			return nil, domain.NewGraphError(domain.GraphReasonDanglingEdge, e.Source,
				fmt.Sprintf("edge %s -> %s references non-existent source stage", e.Source, e.Target))
		}
		if _, exists := byID[e.Target]; !exists {
			return nil, domain.NewGraphError(domain.GraphReasonDanglingEdge, e.Target,
				fmt.Sprintf("edge %s -> %s references non-existent target stage", e.Source, e.Target))
		}
		if e.Source == e.Target {
			return nil, domain.NewGraphError(domain.GraphReasonSelfLoop, e.Source, "edge connects a stage to itself")
		}
	}

	inDegree := make(map[string]int, len(stages))
	next := make(map[string]string, len(edges))
	for _, e := range edges {
		inDegree[e.Target]++
		if _, exists := next[e.Source]; exists {
			return nil, domain.NewGraphError(domain.GraphReasonBranching, e.Source, "stage has more than one outgoing edge")
		}
		next[e.Source] = e.Target
	}
	for _, st := range stages {
		if inDegree[st.StageID] > 1 {
			return nil, domain.NewGraphError(domain.GraphReasonBranching, st.StageID, "stage has more than one incoming edge")
		}
	}

	var roots, leaves []string
	for _, st := range stages {
		if inDegree[st.StageID] == 0 {
			roots = append(roots, st.StageID)
		}
		if _, hasNext := next[st.StageID]; !hasNext {
			leaves = append(leaves, st.StageID)
		}
	}
	// Root and leaf cardinality is authoritative: no cycle detection runs on a
	// graph that already fails it.
	if len(roots) != 1 || len(leaves) != 1 {
		return nil, domain.NewGraphError(domain.GraphReasonRootLeaf, "",
			fmt.Sprintf("expected exactly one root and one leaf, found %d roots and %d leaves", len(roots), len(leaves)))
	}

	order := make([]domain.Stage, 0, len(stages))
	visited := make(map[string]bool, len(stages))
	for id, ok := roots[0], true; ok; id, ok = next[id] {
		if visited[id] {
			return nil, domain.NewGraphError(domain.GraphReasonCycleOrOrphan, id, "walk from root revisits a stage")
		}
		visited[id] = true
		order = append(order, stages[byID[id]])
	}
	if len(order) != len(stages) {
		for _, st := range stages {
			if !visited[st.StageID] {
				return nil, domain.NewGraphError(domain.GraphReasonCycleOrOrphan, st.StageID, "stage is not reachable from the root")
			}
		}
	}

	for i := range order {
		if order[i].StageID != stages[i].StageID {
			return nil, domain.NewGraphError(domain.GraphReasonOrderMismatch, stages[i].StageID,
				fmt.Sprintf("authored position %d holds %s but the chain places %s there", i, stages[i].StageID, order[i].StageID))
		}
	}

	return order, nil
}

// CanonicalOrder returns the stage ids of a validated order.
func CanonicalOrder(order []domain.Stage) []string {
	ids := make([]string, len(order))
	for i, st := range order {
		ids[i] = st.StageID
	}
	return ids
}
