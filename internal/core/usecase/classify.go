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

// GatePolicy holds the confidence gate knobs. Thresholds are global and
// configuration-supplied, never hard-coded.
type GatePolicy struct {
	RuleConfidence      float64
	AutoCommitThreshold float64
	RejectFloor         float64
	ReviewSLAMinutes    int
}

type ClassifyUseCase struct {
	taxonomy    ports.TaxonomyService
	rules       *RuleSet
	model       ports.ModelClassifier
	assignments ports.AssignmentStore
	review      ports.ReviewService
	policy      GatePolicy
	logger      *slog.Logger
}

func NewClassifyUseCase(
	taxonomy ports.TaxonomyService,
	rules *RuleSet,
	model ports.ModelClassifier,
	assignments ports.AssignmentStore,
	review ports.ReviewService,
	policy GatePolicy,
	logger *slog.Logger,
) *ClassifyUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifyUseCase{
		taxonomy:    taxonomy,
		rules:       rules,
		model:       model,
		assignments: assignments,
		review:      review,
		policy:      policy,
		logger:      logger,
	}
}

// Classify runs the rule stage, falls through to the model stage when
// no rule fires, and gates every candidate independently. A model-stage
// failure degrades to "no result"; it never fails the request.
func (uc *ClassifyUseCase) Classify(ctx context.Context, subject domain.Subject, asOfVersion int64) (*domain.ClassifyResult, error) {
	if strings.TrimSpace(subject.ID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "classify", errors.New("subject id is empty"))
	}
	if strings.TrimSpace(subject.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "classify", errors.New("subject text is empty"))
	}

	nodes, err := uc.taxonomy.ActiveNodes(ctx, asOfVersion)
	if err != nil {
		return nil, fmt.Errorf("load active nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "classify", errors.New("taxonomy has no active nodes"))
	}

	candidates := uc.ruleStage(subject, nodes, asOfVersion)
	if len(candidates) == 0 {
		candidates = uc.modelStage(ctx, subject, nodes, asOfVersion)
	}

	result := &domain.ClassifyResult{SubjectID: subject.ID, Version: asOfVersion}
	for _, candidate := range candidates {
		decision, err := uc.gate(ctx, candidate)
		if err != nil {
			return nil, err
		}
		result.Decisions = append(result.Decisions, decision)
	}

	if len(result.Decisions) == 0 {
		uc.logger.Info("subject_unassigned",
			"subject_id", subject.ID,
			"version", asOfVersion,
			"reason", "no candidate")
	}
	return result, nil
}

func (uc *ClassifyUseCase) ruleStage(subject domain.Subject, nodes []domain.TaxonomyNode, version int64) []domain.AssignmentCandidate {
	activeByLabel := make(map[string]string, len(nodes))
	labelByID := make(map[string]string, len(nodes))
	for _, node := range nodes {
		activeByLabel[strings.ToLower(node.Label)] = node.ID
		labelByID[node.ID] = node.Label
	}

	matches := uc.rules.Match(subject.Text, activeByLabel)
	candidates := make([]domain.AssignmentCandidate, 0, len(matches))
	for _, match := range matches {
		candidates = append(candidates, domain.AssignmentCandidate{
			SubjectID:  subject.ID,
			NodeID:     match.NodeID,
			NodeLabel:  labelByID[match.NodeID],
			Confidence: uc.policy.RuleConfidence,
			Method:     domain.MethodRule,
			Version:    version,
		})
	}
	return candidates
}

func (uc *ClassifyUseCase) modelStage(ctx context.Context, subject domain.Subject, nodes []domain.TaxonomyNode, version int64) []domain.AssignmentCandidate {
	allowed := make([]domain.LabelOption, 0, len(nodes))
	byLabel := make(map[string]domain.TaxonomyNode, len(nodes))
	for _, node := range nodes {
		allowed = append(allowed, domain.LabelOption{NodeID: node.ID, Label: node.Label})
		byLabel[strings.ToLower(node.Label)] = node
	}

	choice, err := uc.model.ClassifyText(ctx, subject.Text, allowed)
	if err != nil {
		uc.logger.Warn("model_stage_miss",
			"subject_id", subject.ID,
			"error", err)
		return nil
	}

	node, ok := byLabel[strings.ToLower(strings.TrimSpace(choice.Label))]
	if !ok {
		uc.logger.Warn("model_stage_unknown_label",
			"subject_id", subject.ID,
			"label", choice.Label)
		return nil
	}

	confidence := choice.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return []domain.AssignmentCandidate{{
		SubjectID:  subject.ID,
		NodeID:     node.ID,
		NodeLabel:  node.Label,
		Confidence: confidence,
		Method:     domain.MethodModel,
		Version:    version,
	}}
}

func (uc *ClassifyUseCase) gate(ctx context.Context, candidate domain.AssignmentCandidate) (domain.CandidateDecision, error) {
	decision := domain.CandidateDecision{Candidate: candidate}

	switch {
	case candidate.Confidence >= uc.policy.AutoCommitThreshold:
		assignment := &domain.Assignment{
			ID:         uuid.NewString(),
			SubjectID:  candidate.SubjectID,
			NodeID:     candidate.NodeID,
			Confidence: candidate.Confidence,
			Method:     candidate.Method,
			Version:    candidate.Version,
			AssignedAt: time.Now().UTC(),
		}
		if err := uc.assignments.Commit(ctx, assignment); err != nil {
			return decision, fmt.Errorf("commit assignment: %w", err)
		}
		decision.Outcome = domain.OutcomeCommitted

	case candidate.Confidence > uc.policy.RejectFloor:
		item, err := uc.review.Enqueue(ctx, candidate, uc.policy.ReviewSLAMinutes)
		if err != nil {
			return decision, fmt.Errorf("enqueue review item: %w", err)
		}
		decision.Outcome = domain.OutcomeQueued
		decision.ReviewItemID = item.ID

	default:
		decision.Outcome = domain.OutcomeUnassigned
		uc.logger.Info("candidate_below_reject_floor",
			"subject_id", candidate.SubjectID,
			"node_id", candidate.NodeID,
			"confidence", candidate.Confidence,
			"method", candidate.Method)
	}
	return decision, nil
}
