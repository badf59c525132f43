package testrequest

import (
	"context"

	"github.com/upstac/upstac/internal/domain/user"
	"github.com/upstac/upstac/internal/platform/apperr"
)

// QueryService answers read-only questions about test requests.
type QueryService struct {
	repo TestRequestRepository
}

func NewQueryService(repo TestRequestRepository) *QueryService {
	return &QueryService{repo: repo}
}

// FindBy returns the requests in status that no doctor has taken yet.
func (s *QueryService) FindBy(ctx context.Context, status RequestStatus) ([]*TestRequest, error) {
	items, err := s.repo.FindUnassignedByStatus(ctx, status)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return nonNil(items), nil
}

// FindByDoctor returns every request whose consultation belongs to doctor.
func (s *QueryService) FindByDoctor(ctx context.Context, doctor *user.User) ([]*TestRequest, error) {
	items, err := s.repo.FindByDoctor(ctx, doctor.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return nonNil(items), nil
}

func nonNil(items []*TestRequest) []*TestRequest {
	if items == nil {
		return []*TestRequest{}
	}
	return items
}
