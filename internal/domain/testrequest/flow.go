package testrequest

import (
	"context"
	"fmt"

	"github.com/upstac/upstac/internal/platform/apperr"
)

// transitions lists, per status, the statuses a test request may move to.
var transitions = map[RequestStatus][]RequestStatus{
	StatusInitiated:          {StatusLabTestInProgress},
	StatusLabTestInProgress:  {StatusLabTestCompleted},
	StatusLabTestCompleted:   {StatusDiagnosisInProcess},
	StatusDiagnosisInProcess: {StatusCompleted},
}

// FlowService enforces the test request lifecycle and records each change.
type FlowService struct {
	repo FlowRepository
}

func NewFlowService(repo FlowRepository) *FlowService {
	return &FlowService{repo: repo}
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Log records a status change made by actor. Illegal changes are rejected
// as business errors without touching the store.
func (s *FlowService) Log(ctx context.Context, requestID int64, from, to RequestStatus, actor int64) (*Flow, error) {
	if !CanTransition(from, to) {
		return nil, apperr.BusinessRule(fmt.Sprintf("Cannot move test request from %s to %s", from, to))
	}
	f := &Flow{RequestID: requestID, FromStatus: from, ToStatus: to, ChangedBy: actor}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("record flow for request %d: %w", requestID, err)
	}
	return f, nil
}
