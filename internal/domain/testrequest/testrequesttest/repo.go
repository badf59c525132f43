// Package testrequesttest provides in-memory stores for exercising the test
// request services without a database.
package testrequesttest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/platform/validation"
)

// Repo is an in-memory TestRequestRepository and FlowRepository.
type Repo struct {
	mu       sync.Mutex
	requests map[int64]*testrequest.TestRequest
	flows    []*testrequest.Flow
	nextID   int64

	// Err, when set, is returned by every call.
	Err error
}

func NewRepo(seed ...*testrequest.TestRequest) *Repo {
	r := &Repo{requests: make(map[int64]*testrequest.TestRequest)}
	for _, t := range seed {
		r.Put(t)
	}
	return r
}

// Put stores a copy of t, replacing any request with the same id.
func (r *Repo) Put(t *testrequest.TestRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[t.ID] = clone(t)
}

// Flows returns the recorded status changes in insertion order.
func (r *Repo) Flows() []*testrequest.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*testrequest.Flow(nil), r.flows...)
}

func clone(t *testrequest.TestRequest) *testrequest.TestRequest {
	c := *t
	if t.LabResult != nil {
		lr := *t.LabResult
		c.LabResult = &lr
	}
	if t.Consultation != nil {
		cons := *t.Consultation
		c.Consultation = &cons
	}
	return &c
}

func (r *Repo) sorted(keep func(*testrequest.TestRequest) bool) []*testrequest.TestRequest {
	items := []*testrequest.TestRequest{}
	for _, t := range r.requests {
		if keep(t) {
			items = append(items, clone(t))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (r *Repo) GetByID(_ context.Context, id int64) (*testrequest.TestRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.requests[id]
	if !ok {
		return nil, testrequest.ErrNotFound
	}
	return clone(t), nil
}

func (r *Repo) FindUnassignedByStatus(_ context.Context, status testrequest.RequestStatus) ([]*testrequest.TestRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return r.sorted(func(t *testrequest.TestRequest) bool {
		return t.Status == status && t.Consultation == nil
	}), nil
}

func (r *Repo) FindByDoctor(_ context.Context, doctorID int64) ([]*testrequest.TestRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return r.sorted(func(t *testrequest.TestRequest) bool {
		return t.Consultation != nil && t.Consultation.DoctorID == doctorID
	}), nil
}

func (r *Repo) ClaimUnassigned(_ context.Context, id int64, from, to testrequest.RequestStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	t, ok := r.requests[id]
	if !ok || t.Status != from || t.Consultation != nil {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repo) Transition(_ context.Context, id int64, from, to testrequest.RequestStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	t, ok := r.requests[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repo) CreateConsultation(_ context.Context, requestID, doctorID int64) (*testrequest.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.requests[requestID]
	if !ok {
		return nil, errors.New("foreign key violation: test_request")
	}
	if t.Consultation != nil {
		return nil, testrequest.ErrAlreadyAssigned
	}
	r.nextID++
	t.Consultation = &testrequest.Consultation{ID: r.nextID, DoctorID: doctorID, UpdatedOn: time.Now()}
	c := *t.Consultation
	return &c, nil
}

func (r *Repo) SaveConsultation(_ context.Context, requestID, doctorID int64, suggestion testrequest.DoctorSuggestion, comments string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	t, ok := r.requests[requestID]
	if !ok || t.Consultation == nil || t.Consultation.DoctorID != doctorID {
		return false, nil
	}
	t.Consultation.Suggestion = &suggestion
	t.Consultation.Comments = &comments
	t.Consultation.UpdatedOn = time.Now()
	return true, nil
}

// Create makes Repo a FlowRepository as well.

func (r *Repo) Create(_ context.Context, f *testrequest.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.nextID++
	f.ID = r.nextID
	f.HappenedOn = time.Now()
	stored := *f
	r.flows = append(r.flows, &stored)
	return nil
}

// Tx runs functions directly without isolation; it satisfies
// testrequest.TxRunner.
type Tx struct{}

func (Tx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Services wires the query and update services over r.
func Services(r *Repo) (*testrequest.QueryService, *testrequest.UpdateService) {
	flow := testrequest.NewFlowService(r)
	return testrequest.NewQueryService(r), testrequest.NewUpdateService(r, flow, Tx{}, validation.New())
}
