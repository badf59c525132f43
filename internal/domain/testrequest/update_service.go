package testrequest

import (
	"context"
	"errors"

	"github.com/upstac/upstac/internal/domain/user"
	"github.com/upstac/upstac/internal/platform/apperr"
)

const (
	MsgInvalidIDOrState  = "Invalid ID or State"
	MsgAssignedToAnother = "Test request is assigned to another doctor"
)

// TxRunner runs fn atomically. *db.Transactor satisfies it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Validator checks a payload against its struct tags. *validation.Validator
// satisfies it.
type Validator interface {
	Struct(s interface{}) error
}

// UpdateService moves test requests through the consultation stage.
type UpdateService struct {
	repo      TestRequestRepository
	flow      *FlowService
	tx        TxRunner
	validator Validator
}

func NewUpdateService(repo TestRequestRepository, flow *FlowService, tx TxRunner, v Validator) *UpdateService {
	return &UpdateService{repo: repo, flow: flow, tx: tx, validator: v}
}

// AssignForConsultation gives an unassigned LAB_TEST_COMPLETED request to
// doctor. Of several doctors racing for the same request exactly one wins;
// the others get MsgInvalidIDOrState.
func (s *UpdateService) AssignForConsultation(ctx context.Context, id int64, doctor *user.User) (*TestRequest, error) {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		claimed, err := s.repo.ClaimUnassigned(ctx, id, StatusLabTestCompleted, StatusDiagnosisInProcess)
		if err != nil {
			return apperr.Internal(err)
		}
		if !claimed {
			return apperr.BusinessRule(MsgInvalidIDOrState)
		}

		if _, err := s.repo.CreateConsultation(ctx, id, doctor.ID); err != nil {
			if errors.Is(err, ErrAlreadyAssigned) {
				return apperr.BusinessRule(MsgInvalidIDOrState)
			}
			return apperr.Internal(err)
		}

		_, err = s.flow.Log(ctx, id, StatusLabTestCompleted, StatusDiagnosisInProcess, doctor.ID)
		return tagged(err)
	})
	if err != nil {
		return nil, tagged(err)
	}
	return s.reload(ctx, id)
}

// UpdateConsultation records doctor's verdict and completes the request.
// Only the doctor the request is assigned to may do so.
func (s *UpdateService) UpdateConsultation(ctx context.Context, id int64, req CreateConsultationRequest, doctor *user.User) (*TestRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return apperr.BusinessRule(MsgInvalidIDOrState)
		}
		if err != nil {
			return apperr.Internal(err)
		}
		if t.Status != StatusDiagnosisInProcess {
			return apperr.BusinessRule(MsgInvalidIDOrState)
		}
		if t.DoctorID() != doctor.ID {
			return apperr.BusinessRule(MsgAssignedToAnother)
		}

		saved, err := s.repo.SaveConsultation(ctx, id, doctor.ID, req.Suggestion, req.Comments)
		if err != nil {
			return apperr.Internal(err)
		}
		if !saved {
			return apperr.BusinessRule(MsgAssignedToAnother)
		}

		moved, err := s.repo.Transition(ctx, id, StatusDiagnosisInProcess, StatusCompleted)
		if err != nil {
			return apperr.Internal(err)
		}
		if !moved {
			// Completed concurrently by the same doctor.
			return apperr.BusinessRule(MsgInvalidIDOrState)
		}

		_, err = s.flow.Log(ctx, id, StatusDiagnosisInProcess, StatusCompleted, doctor.ID)
		return tagged(err)
	})
	if err != nil {
		return nil, tagged(err)
	}
	return s.reload(ctx, id)
}

func (s *UpdateService) reload(ctx context.Context, id int64) (*TestRequest, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return t, nil
}

// tagged leaves apperr errors alone and marks anything else internal.
func tagged(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}
