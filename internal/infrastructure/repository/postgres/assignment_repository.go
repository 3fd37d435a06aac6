package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mkravets/taxcore/internal/core/domain"
)

type AssignmentRepository struct {
	db *sql.DB
}

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Commit closes any active assignment for the same (subject, node) pair
// and inserts the new one in a single transaction, so at most one
// active row per pair ever exists.
func (r *AssignmentRepository) Commit(ctx context.Context, assignment *domain.Assignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := commitAssignmentTx(ctx, tx, assignment); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment tx: %w", err)
	}
	return nil
}

// commitAssignmentTx is shared with the review repository, which writes
// the human assignment inside its own resolve transaction.
func commitAssignmentTx(ctx context.Context, tx *sql.Tx, assignment *domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `
UPDATE assignments
SET superseded_at = $3
WHERE subject_id = $1 AND node_id = $2 AND superseded_at IS NULL
`, assignment.SubjectID, assignment.NodeID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("supersede assignment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO assignments (id, subject_id, node_id, confidence, method, version, assigned_at, superseded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULL)
`, assignment.ID, assignment.SubjectID, assignment.NodeID, assignment.Confidence,
		string(assignment.Method), assignment.Version, assignment.AssignedAt)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) ActiveBySubject(ctx context.Context, subjectID string) ([]domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, subject_id, node_id, confidence, method, version, assigned_at, superseded_at
FROM assignments
WHERE subject_id = $1 AND superseded_at IS NULL
ORDER BY node_id
`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var method string
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.NodeID, &a.Confidence, &method, &a.Version, &a.AssignedAt, &a.SupersededAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Method = domain.AssignmentMethod(method)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (r *AssignmentRepository) ActiveNodesForSubjects(ctx context.Context, subjectIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT subject_id, node_id
FROM assignments
WHERE subject_id = ANY($1) AND superseded_at IS NULL
ORDER BY subject_id, node_id
`, subjectIDs)
	if err != nil {
		return nil, fmt.Errorf("query active nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subjectID, nodeID string
		if err := rows.Scan(&subjectID, &nodeID); err != nil {
			return nil, fmt.Errorf("scan active node: %w", err)
		}
		out[subjectID] = append(out[subjectID], nodeID)
	}
	return out, rows.Err()
}
