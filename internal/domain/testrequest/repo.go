package testrequest

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("test request not found")
	ErrAlreadyAssigned = errors.New("test request already has a consultation")
)

type TestRequestRepository interface {
	GetByID(ctx context.Context, id int64) (*TestRequest, error)
	// FindUnassignedByStatus lists requests in status that have no consultation.
	FindUnassignedByStatus(ctx context.Context, status RequestStatus) ([]*TestRequest, error)
	FindByDoctor(ctx context.Context, doctorID int64) ([]*TestRequest, error)
	// ClaimUnassigned moves an unassigned request from one status to another.
	// It reports false when no row matched.
	ClaimUnassigned(ctx context.Context, id int64, from, to RequestStatus) (bool, error)
	// Transition moves a request from one status to another, reporting false
	// when the request was not in from.
	Transition(ctx context.Context, id int64, from, to RequestStatus) (bool, error)
	// CreateConsultation fails with ErrAlreadyAssigned if the request has one.
	CreateConsultation(ctx context.Context, requestID, doctorID int64) (*Consultation, error)
	// SaveConsultation stores the doctor's verdict. It reports false when the
	// request has no consultation owned by doctorID.
	SaveConsultation(ctx context.Context, requestID, doctorID int64, suggestion DoctorSuggestion, comments string) (bool, error)
}

type FlowRepository interface {
	Create(ctx context.Context, f *Flow) error
}
