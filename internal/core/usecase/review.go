package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkravets/taxcore/internal/core/domain"
	"github.com/mkravets/taxcore/internal/core/ports"
)

type ReviewPolicy struct {
	DefaultSLAMinutes int
	DefaultListLimit  int
}

type ReviewUseCase struct {
	store  ports.ReviewStore
	policy ReviewPolicy
	logger *slog.Logger
}

func NewReviewUseCase(store ports.ReviewStore, policy ReviewPolicy, logger *slog.Logger) *ReviewUseCase {
	if policy.DefaultSLAMinutes <= 0 {
		policy.DefaultSLAMinutes = 240
	}
	if policy.DefaultListLimit <= 0 {
		policy.DefaultListLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewUseCase{store: store, policy: policy, logger: logger}
}

func (uc *ReviewUseCase) Enqueue(ctx context.Context, candidate domain.AssignmentCandidate, slaMinutes int) (*domain.ReviewItem, error) {
	if strings.TrimSpace(candidate.SubjectID) == "" || strings.TrimSpace(candidate.NodeID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue review item", errors.New("candidate is incomplete"))
	}
	if slaMinutes <= 0 {
		slaMinutes = uc.policy.DefaultSLAMinutes
	}

	now := time.Now().UTC()
	item := &domain.ReviewItem{
		ID:          uuid.NewString(),
		Candidate:   candidate,
		SLADeadline: now.Add(time.Duration(slaMinutes) * time.Minute),
		Status:      domain.ReviewStatusPending,
		CreatedAt:   now,
	}
	if err := uc.store.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("insert review item: %w", err)
	}
	return item, nil
}

// Resolve applies a human verdict. The store performs the optimistic
// pending->resolved transition together with the assignment write and
// the feedback append; under concurrent resolves exactly one call
// succeeds and the rest observe ErrAlreadyResolved.
func (uc *ReviewUseCase) Resolve(ctx context.Context, itemID string, decision domain.ReviewDecision) error {
	if !decision.Reject && strings.TrimSpace(decision.NodeID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "resolve review item", errors.New("decision needs a node id or reject"))
	}

	item, err := uc.store.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load review item: %w", err)
	}
	if item == nil {
		return domain.WrapError(domain.ErrUnknownItem, "resolve review item", fmt.Errorf("item %s", itemID))
	}
	if item.Status != domain.ReviewStatusPending {
		return domain.WrapError(domain.ErrAlreadyResolved, "resolve review item",
			fmt.Errorf("item %s is %s", itemID, item.Status))
	}

	now := time.Now().UTC()
	resolution := domain.Resolution{
		NodeID:    decision.NodeID,
		Rejected:  decision.Reject,
		Reviewer:  decision.Reviewer,
		DecidedAt: now,
	}

	var assignment *domain.Assignment
	feedback := &domain.FeedbackRecord{
		ID:                  uuid.NewString(),
		ItemID:              item.ID,
		SubjectID:           item.Candidate.SubjectID,
		CandidateNodeID:     item.Candidate.NodeID,
		CandidateConfidence: item.Candidate.Confidence,
		CandidateMethod:     item.Candidate.Method,
		CreatedAt:           now,
	}

	if decision.Reject {
		feedback.Decision = domain.FeedbackRejected
	} else {
		assignment = &domain.Assignment{
			ID:         uuid.NewString(),
			SubjectID:  item.Candidate.SubjectID,
			NodeID:     decision.NodeID,
			Confidence: 1.0,
			Method:     domain.MethodHuman,
			Version:    item.Candidate.Version,
			AssignedAt: now,
		}
		feedback.FinalNodeID = decision.NodeID
		if decision.NodeID == item.Candidate.NodeID {
			feedback.Decision = domain.FeedbackAccepted
		} else {
			feedback.Decision = domain.FeedbackOverridden
		}
	}

	if err := uc.store.ResolveCommit(ctx, itemID, resolution, assignment, feedback); err != nil {
		return err
	}

	uc.logger.Info("review_item_resolved",
		"item_id", itemID,
		"subject_id", item.Candidate.SubjectID,
		"decision", string(feedback.Decision),
		"reviewer", decision.Reviewer)
	return nil
}

func (uc *ReviewUseCase) ListItems(ctx context.Context, filter domain.ReviewFilter) ([]domain.ReviewItem, error) {
	if filter.Status == "" {
		filter.Status = domain.ReviewStatusPending
	}
	if filter.Limit <= 0 {
		filter.Limit = uc.policy.DefaultListLimit
	}
	items, err := uc.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	return items, nil
}

// ExpireOverdue flags overdue pending items as expired so they surface
// for escalation. Nothing is auto-resolved; that would defeat the point
// of human review.
func (uc *ReviewUseCase) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	expired, err := uc.store.ExpireOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire overdue items: %w", err)
	}
	if expired > 0 {
		uc.logger.Warn("review_items_expired", "count", expired)
	}
	return expired, nil
}
