package usecase

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/mkravets/taxcore/internal/core/domain"
)

// memTaxonomyStore is an in-memory TaxonomyStore honoring the same
// version-bound visibility rules as the SQL implementation.
type memTaxonomyStore struct {
	nodes    []domain.TaxonomyNode
	edges    []domain.TaxonomyEdge
	versions []domain.TaxonomyVersion
}

func (s *memTaxonomyStore) InsertNode(_ context.Context, node *domain.TaxonomyNode) error {
	s.nodes = append(s.nodes, *node)
	return nil
}

func (s *memTaxonomyStore) GetNode(_ context.Context, nodeID string) (*domain.TaxonomyNode, error) {
	for i := len(s.nodes) - 1; i >= 0; i-- {
		if s.nodes[i].ID == nodeID && s.nodes[i].RemovedIn == nil {
			node := s.nodes[i]
			return &node, nil
		}
	}
	return nil, nil
}

func (s *memTaxonomyStore) DeprecateNode(_ context.Context, nodeID string, atVersion int64) (int64, error) {
	for i := range s.nodes {
		node := &s.nodes[i]
		if node.ID != nodeID || node.RemovedIn != nil || node.Status != domain.NodeStatusActive {
			continue
		}
		if node.IntroducedIn == atVersion {
			node.Status = domain.NodeStatusDeprecated
			return 1, nil
		}
		bound := atVersion
		node.RemovedIn = &bound
		successor := *node
		successor.Status = domain.NodeStatusDeprecated
		successor.IntroducedIn = atVersion
		successor.RemovedIn = nil
		s.nodes = append(s.nodes, successor)
		return 1, nil
	}
	return 0, nil
}

func (s *memTaxonomyStore) InsertEdge(_ context.Context, edge *domain.TaxonomyEdge) error {
	s.edges = append(s.edges, *edge)
	return nil
}

func (s *memTaxonomyStore) EndEdge(_ context.Context, parentID, childID string, removedIn int64) (int64, error) {
	var affected int64
	for i := range s.edges {
		if s.edges[i].ParentID == parentID && s.edges[i].ChildID == childID && s.edges[i].RemovedIn == nil {
			bound := removedIn
			s.edges[i].RemovedIn = &bound
			affected++
		}
	}
	return affected, nil
}

func (s *memTaxonomyStore) NodesAsOf(_ context.Context, version int64) ([]domain.TaxonomyNode, error) {
	var out []domain.TaxonomyNode
	for _, node := range s.nodes {
		if visibleAt(node.IntroducedIn, node.RemovedIn, version) {
			out = append(out, node)
		}
	}
	return out, nil
}

func (s *memTaxonomyStore) EdgesAsOf(_ context.Context, version int64) ([]domain.TaxonomyEdge, error) {
	var out []domain.TaxonomyEdge
	for _, edge := range s.edges {
		if visibleAt(edge.IntroducedIn, edge.RemovedIn, version) {
			out = append(out, edge)
		}
	}
	return out, nil
}

func visibleAt(introducedIn int64, removedIn *int64, version int64) bool {
	if version == domain.VersionHead {
		return removedIn == nil
	}
	return introducedIn <= version && (removedIn == nil || *removedIn > version)
}

func (s *memTaxonomyStore) HeadVersion(context.Context) (int64, error) {
	var head int64
	for _, v := range s.versions {
		if v.ID > head {
			head = v.ID
		}
	}
	return head, nil
}

func (s *memTaxonomyStore) InsertVersion(_ context.Context, version *domain.TaxonomyVersion) error {
	s.versions = append(s.versions, *version)
	return nil
}

func (s *memTaxonomyStore) GetVersion(_ context.Context, versionID int64) (*domain.TaxonomyVersion, error) {
	for _, v := range s.versions {
		if v.ID == versionID {
			found := v
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memTaxonomyStore) ApplyRollback(ctx context.Context, version *domain.TaxonomyVersion, endNodes, endEdges []string, reviveNodes []domain.TaxonomyNode, reviveEdges []domain.TaxonomyEdge) error {
	for _, id := range endNodes {
		for i := range s.nodes {
			if s.nodes[i].ID == id && s.nodes[i].RemovedIn == nil {
				bound := version.ID
				s.nodes[i].RemovedIn = &bound
			}
		}
	}
	for _, id := range endEdges {
		for i := range s.edges {
			if s.edges[i].ID == id && s.edges[i].RemovedIn == nil {
				bound := version.ID
				s.edges[i].RemovedIn = &bound
			}
		}
	}
	s.nodes = append(s.nodes, reviveNodes...)
	s.edges = append(s.edges, reviveEdges...)
	return s.InsertVersion(ctx, version)
}

func newTaxonomyFixture() (*TaxonomyUseCase, *memTaxonomyStore) {
	store := &memTaxonomyStore{}
	return NewTaxonomyUseCase(store), store
}

func mustCreateNode(t *testing.T, uc *TaxonomyUseCase, label string) *domain.TaxonomyNode {
	t.Helper()
	node, err := uc.CreateNode(context.Background(), label, nil)
	if err != nil {
		t.Fatalf("create node %q: %v", label, err)
	}
	return node
}

func mustAddEdge(t *testing.T, uc *TaxonomyUseCase, parentID, childID string) {
	t.Helper()
	if _, err := uc.AddEdge(context.Background(), parentID, childID); err != nil {
		t.Fatalf("add edge %s -> %s: %v", parentID, childID, err)
	}
}

func TestCreateNodeRejectsEmptyLabel(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	if _, err := uc.CreateNode(context.Background(), "   ", nil); !domain.IsKind(err, domain.ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}
}

func TestCreateNodeStampsNextVersion(t *testing.T) {
	uc, _ := newTaxonomyFixture()

	node := mustCreateNode(t, uc, "Finance")
	if node.IntroducedIn != 1 {
		t.Fatalf("expected introduced_in 1 with empty history, got %d", node.IntroducedIn)
	}

	if _, err := uc.SnapshotVersion(context.Background(), "v1", "ops"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	later := mustCreateNode(t, uc, "Legal")
	if later.IntroducedIn != 2 {
		t.Fatalf("expected introduced_in 2 after one snapshot, got %d", later.IntroducedIn)
	}
}

func TestAddEdgeRejectsSelfEdge(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	node := mustCreateNode(t, uc, "Finance")

	if _, err := uc.AddEdge(context.Background(), node.ID, node.ID); !domain.IsKind(err, domain.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected for self edge, got %v", err)
	}
}

func TestAddEdgeRejectsUnknownAndDeprecatedNodes(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	parent := mustCreateNode(t, uc, "Finance")

	if _, err := uc.AddEdge(context.Background(), parent.ID, "missing"); !domain.IsKind(err, domain.ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode for missing child, got %v", err)
	}

	child := mustCreateNode(t, uc, "Invoices")
	if err := uc.DeprecateNode(context.Background(), child.ID); err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	if _, err := uc.AddEdge(context.Background(), parent.ID, child.ID); !domain.IsKind(err, domain.ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode for deprecated child, got %v", err)
	}
}

func TestAddEdgeRejectsDuplicate(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	parent := mustCreateNode(t, uc, "Finance")
	child := mustCreateNode(t, uc, "Invoices")
	mustAddEdge(t, uc, parent.ID, child.ID)

	if _, err := uc.AddEdge(context.Background(), parent.ID, child.ID); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for duplicate edge, got %v", err)
	}
}

func TestAddEdgeRejectsTransitiveCycle(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	a := mustCreateNode(t, uc, "A")
	b := mustCreateNode(t, uc, "B")
	c := mustCreateNode(t, uc, "C")
	mustAddEdge(t, uc, a.ID, b.ID)
	mustAddEdge(t, uc, b.ID, c.ID)

	if _, err := uc.AddEdge(context.Background(), c.ID, a.ID); !domain.IsKind(err, domain.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected closing c -> a, got %v", err)
	}
	// Diamond shapes stay legal: a second parent is not a cycle.
	d := mustCreateNode(t, uc, "D")
	mustAddEdge(t, uc, d.ID, c.ID)
}

func TestRemoveEdgeUnknown(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	if err := uc.RemoveEdge(context.Background(), "n-1", "n-2"); !domain.IsKind(err, domain.ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode for absent edge, got %v", err)
	}
}

func TestSnapshotVersionChainsParents(t *testing.T) {
	uc, _ := newTaxonomyFixture()

	v1, err := uc.SnapshotVersion(context.Background(), "v1", "ops")
	if err != nil {
		t.Fatalf("snapshot v1: %v", err)
	}
	if v1.ID != 1 || v1.ParentID != nil {
		t.Fatalf("expected first version id 1 with nil parent, got id=%d parent=%v", v1.ID, v1.ParentID)
	}

	v2, err := uc.SnapshotVersion(context.Background(), "v2", "ops")
	if err != nil {
		t.Fatalf("snapshot v2: %v", err)
	}
	if v2.ID != 2 || v2.ParentID == nil || *v2.ParentID != 1 {
		t.Fatalf("expected second version id 2 with parent 1, got id=%d parent=%v", v2.ID, v2.ParentID)
	}
}

func TestRollbackUnknownVersion(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	if _, err := uc.Rollback(context.Background(), 99, "ops"); !domain.IsKind(err, domain.ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestRollbackRestoresTargetSetAndKeepsHistory(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	ctx := context.Background()

	finance := mustCreateNode(t, uc, "Finance")
	invoices := mustCreateNode(t, uc, "Invoices")
	mustAddEdge(t, uc, finance.ID, invoices.ID)
	if _, err := uc.SnapshotVersion(ctx, "v1", "ops"); err != nil {
		t.Fatalf("snapshot v1: %v", err)
	}

	legal := mustCreateNode(t, uc, "Legal")
	mustAddEdge(t, uc, legal.ID, invoices.ID)
	if _, err := uc.SnapshotVersion(ctx, "v2", "ops"); err != nil {
		t.Fatalf("snapshot v2: %v", err)
	}

	version, err := uc.Rollback(ctx, 1, "ops")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if version.ID != 3 {
		t.Fatalf("expected rollback version id 3, got %d", version.ID)
	}
	if version.Label != "rollback-to-1" {
		t.Fatalf("unexpected rollback label %q", version.Label)
	}

	headNodes, err := uc.ActiveNodes(ctx, domain.VersionHead)
	if err != nil {
		t.Fatalf("active nodes at head: %v", err)
	}
	labels := make([]string, 0, len(headNodes))
	for _, node := range headNodes {
		labels = append(labels, node.Label)
	}
	if len(labels) != 2 || labels[0] != "Finance" || labels[1] != "Invoices" {
		t.Fatalf("expected head set [Finance Invoices] after rollback, got %v", labels)
	}

	// Intervening history must stay queryable.
	v2Nodes, err := uc.ActiveNodes(ctx, 2)
	if err != nil {
		t.Fatalf("active nodes at v2: %v", err)
	}
	if len(v2Nodes) != 3 {
		t.Fatalf("expected 3 nodes at version 2 after rollback, got %d", len(v2Nodes))
	}

	path, err := uc.ResolvePath(ctx, invoices.ID, domain.VersionHead)
	if err != nil {
		t.Fatalf("resolve path: %v", err)
	}
	if len(path) != 1 || path[0] != finance.ID {
		t.Fatalf("expected only %s as parent after rollback, got %v", finance.ID, path)
	}
}

func TestDeprecateNodePreservesAsOfReads(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	ctx := context.Background()

	node := mustCreateNode(t, uc, "Finance")
	if _, err := uc.SnapshotVersion(ctx, "v1", "ops"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := uc.DeprecateNode(ctx, node.ID); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	atV1, err := uc.ActiveNodes(ctx, 1)
	if err != nil {
		t.Fatalf("active nodes at v1: %v", err)
	}
	if len(atV1) != 1 || atV1[0].ID != node.ID || atV1[0].Status != domain.NodeStatusActive {
		t.Fatalf("node active at snapshot v1 must stay visible there, got %+v", atV1)
	}

	atHead, err := uc.ActiveNodes(ctx, domain.VersionHead)
	if err != nil {
		t.Fatalf("active nodes at head: %v", err)
	}
	if len(atHead) != 0 {
		t.Fatalf("deprecated node must leave the head active set, got %+v", atHead)
	}
}

func TestRollbackRestoresDeprecatedStatus(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	ctx := context.Background()

	node := mustCreateNode(t, uc, "Finance")
	if _, err := uc.SnapshotVersion(ctx, "v1", "ops"); err != nil {
		t.Fatalf("snapshot v1: %v", err)
	}
	if err := uc.DeprecateNode(ctx, node.ID); err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	if _, err := uc.SnapshotVersion(ctx, "v2", "ops"); err != nil {
		t.Fatalf("snapshot v2: %v", err)
	}

	if _, err := uc.Rollback(ctx, 1, "ops"); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	atHead, err := uc.ActiveNodes(ctx, domain.VersionHead)
	if err != nil {
		t.Fatalf("active nodes at head: %v", err)
	}
	if len(atHead) != 1 || atHead[0].ID != node.ID || atHead[0].Status != domain.NodeStatusActive {
		t.Fatalf("rollback must restore the target's active status, got %+v", atHead)
	}

	// The intervening snapshot keeps the deprecation.
	atV2, err := uc.ActiveNodes(ctx, 2)
	if err != nil {
		t.Fatalf("active nodes at v2: %v", err)
	}
	if len(atV2) != 0 {
		t.Fatalf("snapshot v2 must keep the node deprecated, got %+v", atV2)
	}
}

func TestResolvePathBreadthFirstOrder(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	ctx := context.Background()

	root := mustCreateNode(t, uc, "Root")
	mid1 := mustCreateNode(t, uc, "Mid1")
	mid2 := mustCreateNode(t, uc, "Mid2")
	leaf := mustCreateNode(t, uc, "Leaf")

	mustAddEdge(t, uc, root.ID, mid1.ID)
	mustAddEdge(t, uc, root.ID, mid2.ID)
	mustAddEdge(t, uc, mid1.ID, leaf.ID)
	mustAddEdge(t, uc, mid2.ID, leaf.ID)

	path, err := uc.ResolvePath(ctx, leaf.ID, domain.VersionHead)
	if err != nil {
		t.Fatalf("resolve path: %v", err)
	}
	if len(path) != 3 {
		t.Fatalf("expected 3 ancestors, got %v", path)
	}
	// Direct parents first, sorted by id inside the level, then the root.
	first, second := mid1.ID, mid2.ID
	if second < first {
		first, second = second, first
	}
	if path[0] != first || path[1] != second || path[2] != root.ID {
		t.Fatalf("unexpected ancestor order %v", path)
	}
}

func TestResolvePathUnknownNode(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	if _, err := uc.ResolvePath(context.Background(), "missing", domain.VersionHead); !domain.IsKind(err, domain.ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestActiveNodesExcludesDeprecatedAndSorts(t *testing.T) {
	uc, _ := newTaxonomyFixture()
	ctx := context.Background()

	mustCreateNode(t, uc, "Legal")
	mustCreateNode(t, uc, "Finance")
	old := mustCreateNode(t, uc, "Archive")
	if err := uc.DeprecateNode(ctx, old.ID); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	nodes, err := uc.ActiveNodes(ctx, domain.VersionHead)
	if err != nil {
		t.Fatalf("active nodes: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Label != "Finance" || nodes[1].Label != "Legal" {
		t.Fatalf("expected [Finance Legal], got %+v", nodes)
	}
}

// Edges whose parent precedes the child in creation order can never
// form a cycle, so none of them may be rejected as one; any edge that
// closes an existing path must always be rejected.
func TestAddEdgeCycleDetectionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		uc, _ := newTaxonomyFixture()
		ctx := context.Background()

		nodeCount := rapid.IntRange(3, 8).Draw(t, "nodes")
		ids := make([]string, nodeCount)
		for i := range ids {
			node, err := uc.CreateNode(ctx, fmt.Sprintf("node-%d", i), nil)
			if err != nil {
				t.Fatalf("create node: %v", err)
			}
			ids[i] = node.ID
		}

		type pair struct{ parent, child int }
		var added []pair
		edgeCount := rapid.IntRange(1, 12).Draw(t, "edges")
		for e := 0; e < edgeCount; e++ {
			parent := rapid.IntRange(0, nodeCount-2).Draw(t, "parent")
			child := rapid.IntRange(parent+1, nodeCount-1).Draw(t, "child")

			_, err := uc.AddEdge(ctx, ids[parent], ids[child])
			switch {
			case err == nil:
				added = append(added, pair{parent, child})
			case domain.IsKind(err, domain.ErrInvalidInput):
				// Duplicate draw; fine.
			default:
				t.Fatalf("forward edge %d -> %d rejected: %v", parent, child, err)
			}
		}

		if len(added) == 0 {
			return
		}
		closing := added[rapid.IntRange(0, len(added)-1).Draw(t, "closing")]
		if _, err := uc.AddEdge(ctx, ids[closing.child], ids[closing.parent]); !domain.IsKind(err, domain.ErrCycleDetected) {
			t.Fatalf("expected cycle rejection for %d -> %d, got %v", closing.child, closing.parent, err)
		}
	})
}
