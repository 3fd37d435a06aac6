package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkravets/taxcore/internal/core/domain"
)

type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) Insert(ctx context.Context, item *domain.ReviewItem) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO review_items (
	id, subject_id, node_id, node_label, confidence, method, version,
	sla_deadline, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, item.ID, item.Candidate.SubjectID, item.Candidate.NodeID, item.Candidate.NodeLabel,
		item.Candidate.Confidence, string(item.Candidate.Method), item.Candidate.Version,
		item.SLADeadline, string(item.Status), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review item: %w", err)
	}
	return nil
}

func (r *ReviewRepository) Get(ctx context.Context, itemID string) (*domain.ReviewItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, subject_id, node_id, node_label, confidence, method, version,
	sla_deadline, status, resolution_node_id, resolution_rejected,
	resolution_reviewer, resolution_decided_at, created_at
FROM review_items
WHERE id = $1
`, itemID)

	item, err := scanReviewItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan review item: %w", err)
	}
	return item, nil
}

// ResolveCommit performs the optimistic pending->resolved transition,
// the assignment write (nil on reject), and the feedback append in one
// transaction. The conditional UPDATE is the concurrency guard: of two
// racing resolvers exactly one sees a row transition.
func (r *ReviewRepository) ResolveCommit(
	ctx context.Context,
	itemID string,
	resolution domain.Resolution,
	assignment *domain.Assignment,
	feedback *domain.FeedbackRecord,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE review_items
SET status = $2, resolution_node_id = $3, resolution_rejected = $4,
	resolution_reviewer = $5, resolution_decided_at = $6
WHERE id = $1 AND status = $7
`, itemID, string(domain.ReviewStatusResolved), resolution.NodeID, resolution.Rejected,
		resolution.Reviewer, resolution.DecidedAt, string(domain.ReviewStatusPending))
	if err != nil {
		return fmt.Errorf("resolve review item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve rows affected: %w", err)
	}
	if affected == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM review_items WHERE id = $1`, itemID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrUnknownItem, "resolve review item", fmt.Errorf("item %s", itemID))
		}
		if err != nil {
			return fmt.Errorf("check review item status: %w", err)
		}
		return domain.WrapError(domain.ErrAlreadyResolved, "resolve review item",
			fmt.Errorf("item %s is %s", itemID, status))
	}

	if assignment != nil {
		if err := commitAssignmentTx(ctx, tx, assignment); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO feedback_log (
	id, item_id, subject_id, candidate_node_id, candidate_confidence,
	candidate_method, decision, final_node_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, feedback.ID, feedback.ItemID, feedback.SubjectID, feedback.CandidateNodeID,
		feedback.CandidateConfidence, string(feedback.CandidateMethod),
		string(feedback.Decision), feedback.FinalNodeID, feedback.CreatedAt); err != nil {
		return fmt.Errorf("append feedback record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolve tx: %w", err)
	}
	return nil
}

// List pages items ordered by ascending SLA deadline so the earliest
// due item surfaces first. AfterID restarts from a previous page.
func (r *ReviewRepository) List(ctx context.Context, filter domain.ReviewFilter) ([]domain.ReviewItem, error) {
	query := `
SELECT id, subject_id, node_id, node_label, confidence, method, version,
	sla_deadline, status, resolution_node_id, resolution_rejected,
	resolution_reviewer, resolution_decided_at, created_at
FROM review_items
WHERE status = $1`
	args := []any{string(filter.Status)}

	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		query += fmt.Sprintf(" AND node_id = $%d", len(args))
	}
	if filter.AfterID != "" {
		args = append(args, filter.AfterID)
		query += fmt.Sprintf(` AND (sla_deadline, id) > (
	SELECT sla_deadline, id FROM review_items WHERE id = $%d)`, len(args))
	}

	query += " ORDER BY sla_deadline ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query review items: %w", err)
	}
	defer rows.Close()

	var items []domain.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *ReviewRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE review_items
SET status = $2
WHERE status = $1 AND sla_deadline < $3
`, string(domain.ReviewStatusPending), string(domain.ReviewStatusExpired), now)
	if err != nil {
		return 0, fmt.Errorf("expire review items: %w", err)
	}
	return result.RowsAffected()
}

func scanReviewItem(row rowScanner) (*domain.ReviewItem, error) {
	var item domain.ReviewItem
	var method, status string
	var resNodeID, resReviewer sql.NullString
	var resRejected sql.NullBool
	var resDecidedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.Candidate.SubjectID, &item.Candidate.NodeID, &item.Candidate.NodeLabel,
		&item.Candidate.Confidence, &method, &item.Candidate.Version,
		&item.SLADeadline, &status, &resNodeID, &resRejected, &resReviewer, &resDecidedAt,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Candidate.Method = domain.AssignmentMethod(method)
	item.Status = domain.ReviewStatus(status)
	if resDecidedAt.Valid {
		item.Resolution = &domain.Resolution{
			NodeID:    resNodeID.String,
			Rejected:  resRejected.Bool,
			Reviewer:  resReviewer.String,
			DecidedAt: resDecidedAt.Time,
		}
	}
	return &item, nil
}
