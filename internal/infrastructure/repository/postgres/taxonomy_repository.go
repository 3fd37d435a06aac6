package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mkravets/taxcore/internal/core/domain"
)

// TaxonomyRepository persists the append-only node/edge/version
// history. "As of" reads are bounded by the introduced/removed version
// columns; domain.VersionHead selects the current working set.
type TaxonomyRepository struct {
	db *sql.DB
}

func NewTaxonomyRepository(db *sql.DB) *TaxonomyRepository {
	return &TaxonomyRepository{db: db}
}

func (r *TaxonomyRepository) InsertNode(ctx context.Context, node *domain.TaxonomyNode) error {
	metadata, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("marshal node metadata: %w", err)
	}
	if node.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO taxonomy_nodes (node_id, label, status, metadata, introduced_in, removed_in, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, node.ID, node.Label, string(node.Status), metadata, node.IntroducedIn, node.RemovedIn, node.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (r *TaxonomyRepository) GetNode(ctx context.Context, nodeID string) (*domain.TaxonomyNode, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT node_id, label, status, metadata, introduced_in, removed_in, created_at
FROM taxonomy_nodes
WHERE node_id = $1 AND removed_in IS NULL
`, nodeID)

	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return node, nil
}

// DeprecateNode version-bounds the active row and inserts a successor
// carrying the deprecated status, keeping earlier snapshots intact. A
// row introduced in the same pending version was never visible in any
// snapshot and is updated in place instead, since a successor would
// collide on (node_id, introduced_in).
func (r *TaxonomyRepository) DeprecateNode(ctx context.Context, nodeID string, atVersion int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin deprecate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE taxonomy_nodes
SET removed_in = $2
WHERE node_id = $1 AND removed_in IS NULL AND status = $3 AND introduced_in < $2
`, nodeID, atVersion, string(domain.NodeStatusActive))
	if err != nil {
		return 0, fmt.Errorf("end active node row: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("end active node row: %w", err)
	}

	if affected > 0 {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO taxonomy_nodes (node_id, label, status, metadata, introduced_in, removed_in, created_at)
SELECT node_id, label, $3, metadata, $2, NULL, created_at
FROM taxonomy_nodes
WHERE node_id = $1 AND removed_in = $2 AND status = $4
`, nodeID, atVersion, string(domain.NodeStatusDeprecated), string(domain.NodeStatusActive)); err != nil {
			return 0, fmt.Errorf("insert deprecated node row: %w", err)
		}
	} else {
		result, err = tx.ExecContext(ctx, `
UPDATE taxonomy_nodes
SET status = $2
WHERE node_id = $1 AND removed_in IS NULL AND status = $3 AND introduced_in = $4
`, nodeID, string(domain.NodeStatusDeprecated), string(domain.NodeStatusActive), atVersion)
		if err != nil {
			return 0, fmt.Errorf("deprecate same-version node row: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("deprecate same-version node row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deprecate tx: %w", err)
	}
	return affected, nil
}

func (r *TaxonomyRepository) InsertEdge(ctx context.Context, edge *domain.TaxonomyEdge) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO taxonomy_edges (id, parent_id, child_id, introduced_in, removed_in, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, edge.ID, edge.ParentID, edge.ChildID, edge.IntroducedIn, edge.RemovedIn, edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

func (r *TaxonomyRepository) EndEdge(ctx context.Context, parentID, childID string, removedIn int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE taxonomy_edges
SET removed_in = $3
WHERE parent_id = $1 AND child_id = $2 AND removed_in IS NULL
`, parentID, childID, removedIn)
	if err != nil {
		return 0, fmt.Errorf("end edge: %w", err)
	}
	return result.RowsAffected()
}

func (r *TaxonomyRepository) NodesAsOf(ctx context.Context, version int64) ([]domain.TaxonomyNode, error) {
	query := `
SELECT node_id, label, status, metadata, introduced_in, removed_in, created_at
FROM taxonomy_nodes
WHERE removed_in IS NULL
ORDER BY node_id`
	args := []any{}
	if version != domain.VersionHead {
		query = `
SELECT node_id, label, status, metadata, introduced_in, removed_in, created_at
FROM taxonomy_nodes
WHERE introduced_in <= $1 AND (removed_in IS NULL OR removed_in > $1)
ORDER BY node_id`
		args = append(args, version)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.TaxonomyNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

func (r *TaxonomyRepository) EdgesAsOf(ctx context.Context, version int64) ([]domain.TaxonomyEdge, error) {
	query := `
SELECT id, parent_id, child_id, introduced_in, removed_in, created_at
FROM taxonomy_edges
WHERE removed_in IS NULL
ORDER BY id`
	args := []any{}
	if version != domain.VersionHead {
		query = `
SELECT id, parent_id, child_id, introduced_in, removed_in, created_at
FROM taxonomy_edges
WHERE introduced_in <= $1 AND (removed_in IS NULL OR removed_in > $1)
ORDER BY id`
		args = append(args, version)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.TaxonomyEdge
	for rows.Next() {
		var edge domain.TaxonomyEdge
		if err := rows.Scan(&edge.ID, &edge.ParentID, &edge.ChildID, &edge.IntroducedIn, &edge.RemovedIn, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func (r *TaxonomyRepository) HeadVersion(ctx context.Context) (int64, error) {
	var head int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM taxonomy_versions`).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("query head version: %w", err)
	}
	return head, nil
}

func (r *TaxonomyRepository) InsertVersion(ctx context.Context, version *domain.TaxonomyVersion) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO taxonomy_versions (id, label, parent_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5)
`, version.ID, version.Label, version.ParentID, version.CreatedBy, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (r *TaxonomyRepository) GetVersion(ctx context.Context, versionID int64) (*domain.TaxonomyVersion, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, label, parent_id, created_by, created_at
FROM taxonomy_versions
WHERE id = $1
`, versionID)

	var version domain.TaxonomyVersion
	err := row.Scan(&version.ID, &version.Label, &version.ParentID, &version.CreatedBy, &version.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return &version, nil
}

// ApplyRollback version-bounds the rows leaving the active set,
// re-introduces the revived ones, and records the new version, all in
// one transaction so a failed rollback leaves no partial state.
func (r *TaxonomyRepository) ApplyRollback(
	ctx context.Context,
	version *domain.TaxonomyVersion,
	endNodes, endEdges []string,
	reviveNodes []domain.TaxonomyNode,
	reviveEdges []domain.TaxonomyEdge,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, nodeID := range endNodes {
		if _, err := tx.ExecContext(ctx, `
UPDATE taxonomy_nodes SET removed_in = $2 WHERE node_id = $1 AND removed_in IS NULL
`, nodeID, version.ID); err != nil {
			return fmt.Errorf("end node %s: %w", nodeID, err)
		}
	}
	for _, edgeID := range endEdges {
		if _, err := tx.ExecContext(ctx, `
UPDATE taxonomy_edges SET removed_in = $2 WHERE id = $1 AND removed_in IS NULL
`, edgeID, version.ID); err != nil {
			return fmt.Errorf("end edge %s: %w", edgeID, err)
		}
	}
	for _, node := range reviveNodes {
		metadata, err := json.Marshal(node.Metadata)
		if err != nil {
			return fmt.Errorf("marshal node metadata: %w", err)
		}
		if node.Metadata == nil {
			metadata = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO taxonomy_nodes (node_id, label, status, metadata, introduced_in, removed_in, created_at)
VALUES ($1,$2,$3,$4,$5,NULL,$6)
`, node.ID, node.Label, string(node.Status), metadata, node.IntroducedIn, node.CreatedAt); err != nil {
			return fmt.Errorf("revive node %s: %w", node.ID, err)
		}
	}
	for _, edge := range reviveEdges {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO taxonomy_edges (id, parent_id, child_id, introduced_in, removed_in, created_at)
VALUES ($1,$2,$3,$4,NULL,$5)
`, edge.ID, edge.ParentID, edge.ChildID, edge.IntroducedIn, edge.CreatedAt); err != nil {
			return fmt.Errorf("revive edge %s: %w", edge.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO taxonomy_versions (id, label, parent_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5)
`, version.ID, version.Label, version.ParentID, version.CreatedBy, version.CreatedAt); err != nil {
		return fmt.Errorf("insert rollback version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*domain.TaxonomyNode, error) {
	var node domain.TaxonomyNode
	var metadataRaw []byte
	var status string
	if err := row.Scan(&node.ID, &node.Label, &status, &metadataRaw, &node.IntroducedIn, &node.RemovedIn, &node.CreatedAt); err != nil {
		return nil, err
	}
	node.Status = domain.NodeStatus(status)
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &node.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal node metadata: %w", err)
		}
	}
	return &node, nil
}
