package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nsicore/nsi/internal/toposort"
)

// DependencyCycle is one cycle found among a repository's call edges,
// reported as the qualified names on the cycle path.
type DependencyCycle struct {
	QualifiedNames []string
}

// FindDependencyCycles builds a directed graph from every call edge
// currently recorded for repoID and reports a cycle rooted at each symbol in
// seeds that participates in one. Backs the no-dependency-cycles semantic
// gate (component M).
func (s *Store) FindDependencyCycles(ctx context.Context, repoID uuid.UUID, seeds []string) ([]DependencyCycle, error) {
	edges, err := s.CallEdgesForRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("find dependency cycles: %w", err)
	}

	byID := make(map[uuid.UUID]string, len(edges)*2)

	graph := toposort.NewGraph()

	for _, edge := range edges {
		caller, err := s.qualifiedNameOf(ctx, byID, edge.CallerID)
		if err != nil {
			continue
		}

		callee, err := s.qualifiedNameOf(ctx, byID, edge.CalleeID)
		if err != nil {
			continue
		}

		graph.AddEdge(caller, callee)
	}

	seen := make(map[string]bool)

	var cycles []DependencyCycle

	for _, seed := range seeds {
		cycle := graph.FindCycle(seed)
		if len(cycle) == 0 {
			continue
		}

		key := fmt.Sprint(cycle)
		if seen[key] {
			continue
		}

		seen[key] = true
		cycles = append(cycles, DependencyCycle{QualifiedNames: cycle})
	}

	return cycles, nil
}

func (s *Store) qualifiedNameOf(ctx context.Context, cache map[uuid.UUID]string, id uuid.UUID) (string, error) {
	if name, ok := cache[id]; ok {
		return name, nil
	}

	var name string

	row := s.db.QueryRowContext(ctx, `SELECT qualified_name FROM symbols WHERE id = ?`, id.String())
	if err := row.Scan(&name); err != nil {
		return "", fmt.Errorf("resolve symbol %s: %w", id, err)
	}

	cache[id] = name

	return name, nil
}
