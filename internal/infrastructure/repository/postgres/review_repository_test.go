package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mkravets/taxcore/internal/core/domain"
)

func TestReviewRepositoryResolveCommitWritesAssignmentAndFeedback(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewReviewRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE review_items").
		WithArgs("item-1", string(domain.ReviewStatusResolved), "n-1", false, "alice", sqlmock.AnyArg(), string(domain.ReviewStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE assignments").
		WithArgs("s-1", "n-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO assignments").
		WithArgs("a-1", "s-1", "n-1", 1.0, string(domain.MethodHuman), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO feedback_log").
		WithArgs("f-1", "item-1", "s-1", "n-1", 0.6, string(domain.MethodModel), string(domain.FeedbackAccepted), "n-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resolution := domain.Resolution{NodeID: "n-1", Reviewer: "alice", DecidedAt: now}
	assignment := &domain.Assignment{ID: "a-1", SubjectID: "s-1", NodeID: "n-1", Confidence: 1.0, Method: domain.MethodHuman, Version: 3, AssignedAt: now}
	feedback := &domain.FeedbackRecord{
		ID: "f-1", ItemID: "item-1", SubjectID: "s-1",
		CandidateNodeID: "n-1", CandidateConfidence: 0.6, CandidateMethod: domain.MethodModel,
		Decision: domain.FeedbackAccepted, FinalNodeID: "n-1", CreatedAt: now,
	}

	if err := repo.ResolveCommit(context.Background(), "item-1", resolution, assignment, feedback); err != nil {
		t.Fatalf("ResolveCommit() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReviewRepositoryResolveCommitAlreadyResolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewReviewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE review_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM review_items").
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(domain.ReviewStatusResolved)))
	mock.ExpectRollback()

	resolveErr := repo.ResolveCommit(context.Background(), "item-1", domain.Resolution{}, nil, &domain.FeedbackRecord{})
	if !errors.Is(resolveErr, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", resolveErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReviewRepositoryResolveCommitUnknownItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewReviewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE review_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM review_items").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	resolveErr := repo.ResolveCommit(context.Background(), "missing", domain.Resolution{}, nil, &domain.FeedbackRecord{})
	if !errors.Is(resolveErr, domain.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", resolveErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReviewRepositoryListOrdersBySLADeadline(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewReviewRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "subject_id", "node_id", "node_label", "confidence", "method", "version",
		"sla_deadline", "status", "resolution_node_id", "resolution_rejected",
		"resolution_reviewer", "resolution_decided_at", "created_at",
	}).
		AddRow("item-1", "s-1", "n-1", "Finance", 0.6, string(domain.MethodModel), int64(2),
			now.Add(time.Hour), string(domain.ReviewStatusPending), nil, nil, nil, nil, now)

	mock.ExpectQuery("ORDER BY sla_deadline ASC, id ASC").
		WithArgs(string(domain.ReviewStatusPending), 50).
		WillReturnRows(rows)

	items, err := repo.List(context.Background(), domain.ReviewFilter{Status: domain.ReviewStatusPending, Limit: 50})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "item-1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Resolution != nil {
		t.Fatalf("pending item should not carry a resolution")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReviewRepositoryExpireOverdueCountsTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewReviewRepository(db)
	now := time.Now()

	mock.ExpectExec("UPDATE review_items").
		WithArgs(string(domain.ReviewStatusPending), string(domain.ReviewStatusExpired), now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.ExpireOverdue(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireOverdue() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 expired, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
