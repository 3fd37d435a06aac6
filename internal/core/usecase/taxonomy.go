package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkravets/taxcore/internal/core/domain"
	"github.com/mkravets/taxcore/internal/core/ports"
)

// TaxonomyUseCase serializes structural writes behind a single mutex so
// the cycle check and the edge insert cannot race. Reads go straight to
// the store against a consistent version bound.
type TaxonomyUseCase struct {
	store ports.TaxonomyStore

	writeMu sync.Mutex
}

func NewTaxonomyUseCase(store ports.TaxonomyStore) *TaxonomyUseCase {
	return &TaxonomyUseCase{store: store}
}

func (uc *TaxonomyUseCase) CreateNode(ctx context.Context, label string, metadata map[string]string) (*domain.TaxonomyNode, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, domain.WrapError(domain.ErrInvalidLabel, "create node", errors.New("label is empty"))
	}

	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	head, err := uc.store.HeadVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head version: %w", err)
	}

	node := &domain.TaxonomyNode{
		ID:           uuid.NewString(),
		Label:        label,
		Status:       domain.NodeStatusActive,
		Metadata:     metadata,
		IntroducedIn: head + 1,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.store.InsertNode(ctx, node); err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}
	return node, nil
}

// DeprecateNode retires a node from the pending version onward. The
// store keeps the prior active row version-bounded, so reads as of
// earlier snapshots still see the node active.
func (uc *TaxonomyUseCase) DeprecateNode(ctx context.Context, nodeID string) error {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	head, err := uc.store.HeadVersion(ctx)
	if err != nil {
		return fmt.Errorf("read head version: %w", err)
	}
	affected, err := uc.store.DeprecateNode(ctx, nodeID, head+1)
	if err != nil {
		return fmt.Errorf("deprecate node: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrUnknownNode, "deprecate node", fmt.Errorf("node %s not active", nodeID))
	}
	return nil
}

func (uc *TaxonomyUseCase) AddEdge(ctx context.Context, parentID, childID string) (*domain.TaxonomyEdge, error) {
	if parentID == childID {
		return nil, domain.WrapError(domain.ErrCycleDetected, "add edge", errors.New("self edge"))
	}

	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	for _, nodeID := range []string{parentID, childID} {
		node, err := uc.store.GetNode(ctx, nodeID)
		if err != nil {
			return nil, fmt.Errorf("load node %s: %w", nodeID, err)
		}
		if node == nil || node.Status != domain.NodeStatusActive {
			return nil, domain.WrapError(domain.ErrUnknownNode, "add edge", fmt.Errorf("node %s is missing or deprecated", nodeID))
		}
	}

	edges, err := uc.store.EdgesAsOf(ctx, domain.VersionHead)
	if err != nil {
		return nil, fmt.Errorf("load active edges: %w", err)
	}
	for _, edge := range edges {
		if edge.ParentID == parentID && edge.ChildID == childID {
			return nil, domain.WrapError(domain.ErrInvalidInput, "add edge", errors.New("edge already exists"))
		}
	}
	if pathExists(edges, childID, parentID) {
		return nil, domain.WrapError(domain.ErrCycleDetected, "add edge",
			fmt.Errorf("path %s -> %s already exists", childID, parentID))
	}

	head, err := uc.store.HeadVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head version: %w", err)
	}

	edge := &domain.TaxonomyEdge{
		ID:           uuid.NewString(),
		ParentID:     parentID,
		ChildID:      childID,
		IntroducedIn: head + 1,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.store.InsertEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("insert edge: %w", err)
	}
	return edge, nil
}

func (uc *TaxonomyUseCase) RemoveEdge(ctx context.Context, parentID, childID string) error {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	head, err := uc.store.HeadVersion(ctx)
	if err != nil {
		return fmt.Errorf("read head version: %w", err)
	}
	affected, err := uc.store.EndEdge(ctx, parentID, childID, head+1)
	if err != nil {
		return fmt.Errorf("end edge: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrUnknownNode, "remove edge",
			fmt.Errorf("no active edge %s -> %s", parentID, childID))
	}
	return nil
}

func (uc *TaxonomyUseCase) SnapshotVersion(ctx context.Context, label, createdBy string) (*domain.TaxonomyVersion, error) {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	head, err := uc.store.HeadVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head version: %w", err)
	}

	version := &domain.TaxonomyVersion{
		ID:        head + 1,
		Label:     label,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if head > 0 {
		parent := head
		version.ParentID = &parent
	}
	if err := uc.store.InsertVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	return version, nil
}

// Rollback appends a new version whose active set equals the target's.
// Intervening history stays queryable; nothing is deleted.
func (uc *TaxonomyUseCase) Rollback(ctx context.Context, targetVersionID int64, createdBy string) (*domain.TaxonomyVersion, error) {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	target, err := uc.store.GetVersion(ctx, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("load target version: %w", err)
	}
	if target == nil {
		return nil, domain.WrapError(domain.ErrUnknownVersion, "rollback", fmt.Errorf("version %d", targetVersionID))
	}

	head, err := uc.store.HeadVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head version: %w", err)
	}

	currentNodes, err := uc.store.NodesAsOf(ctx, domain.VersionHead)
	if err != nil {
		return nil, fmt.Errorf("load current nodes: %w", err)
	}
	targetNodes, err := uc.store.NodesAsOf(ctx, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("load target nodes: %w", err)
	}
	currentEdges, err := uc.store.EdgesAsOf(ctx, domain.VersionHead)
	if err != nil {
		return nil, fmt.Errorf("load current edges: %w", err)
	}
	targetEdges, err := uc.store.EdgesAsOf(ctx, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("load target edges: %w", err)
	}

	newID := head + 1
	version := &domain.TaxonomyVersion{
		ID:        newID,
		Label:     fmt.Sprintf("rollback-to-%d", targetVersionID),
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	parent := head
	if parent > 0 {
		version.ParentID = &parent
	}

	endNodes, reviveNodes := diffNodes(currentNodes, targetNodes, newID)
	endEdges, reviveEdges := diffEdges(currentEdges, targetEdges, newID)

	if err := uc.store.ApplyRollback(ctx, version, endNodes, endEdges, reviveNodes, reviveEdges); err != nil {
		return nil, fmt.Errorf("apply rollback: %w", err)
	}
	return version, nil
}

// ResolvePath returns the ancestors of nodeID in breadth-first order,
// nearest parents first. Parents within one level are ordered by id for
// determinism.
func (uc *TaxonomyUseCase) ResolvePath(ctx context.Context, nodeID string, asOfVersion int64) ([]string, error) {
	nodes, err := uc.store.NodesAsOf(ctx, asOfVersion)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	known := false
	for _, node := range nodes {
		if node.ID == nodeID {
			known = true
			break
		}
	}
	if !known {
		return nil, domain.WrapError(domain.ErrUnknownNode, "resolve path",
			fmt.Errorf("node %s at version %d", nodeID, asOfVersion))
	}

	edges, err := uc.store.EdgesAsOf(ctx, asOfVersion)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	parents := make(map[string][]string, len(edges))
	for _, edge := range edges {
		parents[edge.ChildID] = append(parents[edge.ChildID], edge.ParentID)
	}

	var path []string
	seen := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			level := append([]string(nil), parents[id]...)
			sort.Strings(level)
			for _, parent := range level {
				if seen[parent] {
					continue
				}
				seen[parent] = true
				path = append(path, parent)
				next = append(next, parent)
			}
		}
		frontier = next
	}
	return path, nil
}

func (uc *TaxonomyUseCase) ActiveNodes(ctx context.Context, asOfVersion int64) ([]domain.TaxonomyNode, error) {
	nodes, err := uc.store.NodesAsOf(ctx, asOfVersion)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	active := make([]domain.TaxonomyNode, 0, len(nodes))
	for _, node := range nodes {
		if node.Status == domain.NodeStatusActive {
			active = append(active, node)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Label < active[j].Label })
	return active, nil
}

// pathExists reports whether a directed path from -> to exists in the
// given edge set. BFS over the parent->child adjacency; O(V+E), which
// is fine because structural edits are rare relative to reads.
func pathExists(edges []domain.TaxonomyEdge, from, to string) bool {
	children := make(map[string][]string, len(edges))
	for _, edge := range edges {
		children[edge.ParentID] = append(children[edge.ParentID], edge.ChildID)
	}

	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, child := range children[id] {
			if child == to {
				return true
			}
			if !seen[child] {
				seen[child] = true
				frontier = append(frontier, child)
			}
		}
	}
	return false
}

func diffNodes(current, target []domain.TaxonomyNode, newVersion int64) (end []string, revive []domain.TaxonomyNode) {
	currentByID := make(map[string]domain.TaxonomyNode, len(current))
	for _, node := range current {
		currentByID[node.ID] = node
	}
	targetByID := make(map[string]domain.TaxonomyNode, len(target))
	for _, node := range target {
		targetByID[node.ID] = node
	}

	for id, node := range currentByID {
		targetNode, ok := targetByID[id]
		if !ok {
			end = append(end, id)
			continue
		}
		// Same node, different status: the target's row must win, so
		// the current one is ended and the target's re-introduced.
		if node.Status != targetNode.Status {
			end = append(end, id)
			targetNode.IntroducedIn = newVersion
			targetNode.RemovedIn = nil
			revive = append(revive, targetNode)
		}
	}
	for id, node := range targetByID {
		if _, ok := currentByID[id]; !ok {
			node.IntroducedIn = newVersion
			node.RemovedIn = nil
			revive = append(revive, node)
		}
	}
	sort.Strings(end)
	sort.Slice(revive, func(i, j int) bool { return revive[i].ID < revive[j].ID })
	return end, revive
}

func diffEdges(current, target []domain.TaxonomyEdge, newVersion int64) (end []string, revive []domain.TaxonomyEdge) {
	key := func(e domain.TaxonomyEdge) string { return e.ParentID + "->" + e.ChildID }

	currentByKey := make(map[string]domain.TaxonomyEdge, len(current))
	for _, edge := range current {
		currentByKey[key(edge)] = edge
	}
	targetByKey := make(map[string]domain.TaxonomyEdge, len(target))
	for _, edge := range target {
		targetByKey[key(edge)] = edge
	}

	for k, edge := range currentByKey {
		if _, ok := targetByKey[k]; !ok {
			end = append(end, edge.ID)
		}
	}
	for k, edge := range targetByKey {
		if _, ok := currentByKey[k]; !ok {
			edge.ID = uuid.NewString()
			edge.IntroducedIn = newVersion
			edge.RemovedIn = nil
			edge.CreatedAt = time.Now().UTC()
			revive = append(revive, edge)
		}
	}
	sort.Strings(end)
	sort.Slice(revive, func(i, j int) bool { return revive[i].ID < revive[j].ID })
	return end, revive
}
