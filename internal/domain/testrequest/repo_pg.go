package testrequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upstac/upstac/internal/platform/db"
)

const (
	tableTestRequest = "test_request"
	tableLabResult   = "lab_result"
	tableConsult     = "consultation"
	tableFlow        = "test_request_flow"

	pgUniqueViolation = "23505"

	noConsultation = "NOT EXISTS (SELECT 1 FROM consultation c WHERE c.request_id = test_request.id)"
)

var dialect = goqu.Dialect("postgres")

type testRequestRepoPG struct{ pool *pgxpool.Pool }

func NewTestRequestRepoPG(pool *pgxpool.Pool) TestRequestRepository {
	return &testRequestRepoPG{pool: pool}
}

// selectWithRelations joins the lab result and consultation, both optional.
func selectWithRelations() *goqu.SelectDataset {
	return dialect.From(goqu.T(tableTestRequest).As("t")).
		LeftJoin(goqu.T(tableLabResult).As("l"), goqu.On(goqu.I("l.request_id").Eq(goqu.I("t.id")))).
		LeftJoin(goqu.T(tableConsult).As("c"), goqu.On(goqu.I("c.request_id").Eq(goqu.I("t.id")))).
		Select(
			"t.id", "t.name", "t.gender", "t.age", "t.email", "t.phone_number",
			"t.address", "t.pin_code", "t.status", "t.created_by", "t.created_at", "t.updated_at",
			"l.id", "l.blood_pressure", "l.heart_beat", "l.temperature", "l.oxygen_level",
			"l.comments", "l.result", "l.tester_id", "l.updated_on",
			"c.id", "c.doctor_id", "c.suggestion", "c.comments", "c.updated_on",
		).
		Order(goqu.I("t.id").Asc())
}

func scanTestRequest(row pgx.Row) (*TestRequest, error) {
	var (
		t      TestRequest
		status string

		labID                                  *int64
		bp, hb, temp, oxygen, labComments, res *string
		testerID                               *int64
		labUpdated                             *time.Time
		consultID, doctorID                    *int64
		suggestion, consultComments            *string
		consultUpdated                         *time.Time
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Gender, &t.Age, &t.Email, &t.PhoneNumber,
		&t.Address, &t.PinCode, &status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		&labID, &bp, &hb, &temp, &oxygen, &labComments, &res, &testerID, &labUpdated,
		&consultID, &doctorID, &suggestion, &consultComments, &consultUpdated,
	)
	if err != nil {
		return nil, err
	}
	t.Status = RequestStatus(status)

	if labID != nil {
		t.LabResult = &LabResult{
			ID:            *labID,
			BloodPressure: deref(bp),
			HeartBeat:     deref(hb),
			Temperature:   deref(temp),
			OxygenLevel:   deref(oxygen),
			Comments:      deref(labComments),
			Result:        TestResult(deref(res)),
		}
		if testerID != nil {
			t.LabResult.TesterID = *testerID
		}
		if labUpdated != nil {
			t.LabResult.UpdatedOn = *labUpdated
		}
	}

	if consultID != nil {
		c := &Consultation{ID: *consultID, Comments: consultComments}
		if doctorID != nil {
			c.DoctorID = *doctorID
		}
		if suggestion != nil {
			s := DoctorSuggestion(*suggestion)
			c.Suggestion = &s
		}
		if consultUpdated != nil {
			c.UpdatedOn = *consultUpdated
		}
		t.Consultation = c
	}
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *testRequestRepoPG) list(ctx context.Context, ds *goqu.SelectDataset) ([]*TestRequest, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build test request query: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*TestRequest{}
	for rows.Next() {
		t, err := scanTestRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *testRequestRepoPG) GetByID(ctx context.Context, id int64) (*TestRequest, error) {
	query, args, err := selectWithRelations().Where(goqu.I("t.id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build test request query: %w", err)
	}
	t, err := scanTestRequest(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// unassignedQuery selects requests in status that have no consultation row.
func unassignedQuery(status RequestStatus) *goqu.SelectDataset {
	return selectWithRelations().Where(
		goqu.I("t.status").Eq(string(status)),
		goqu.I("c.id").IsNull(),
	)
}

func byDoctorQuery(doctorID int64) *goqu.SelectDataset {
	return selectWithRelations().Where(goqu.I("c.doctor_id").Eq(doctorID))
}

func (r *testRequestRepoPG) FindUnassignedByStatus(ctx context.Context, status RequestStatus) ([]*TestRequest, error) {
	return r.list(ctx, unassignedQuery(status))
}

func (r *testRequestRepoPG) FindByDoctor(ctx context.Context, doctorID int64) ([]*TestRequest, error) {
	return r.list(ctx, byDoctorQuery(doctorID))
}

func (r *testRequestRepoPG) exec(ctx context.Context, ds *goqu.UpdateDataset) (bool, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func statusUpdate(id int64, from, to RequestStatus) *goqu.UpdateDataset {
	return dialect.Update(tableTestRequest).
		Set(goqu.Record{"status": string(to), "updated_at": goqu.L("NOW()")}).
		Where(goqu.C("id").Eq(id), goqu.C("status").Eq(string(from)))
}

// claimUpdate moves the request only while no consultation exists for it.
func claimUpdate(id int64, from, to RequestStatus) *goqu.UpdateDataset {
	return statusUpdate(id, from, to).Where(goqu.L(noConsultation))
}

func (r *testRequestRepoPG) ClaimUnassigned(ctx context.Context, id int64, from, to RequestStatus) (bool, error) {
	return r.exec(ctx, claimUpdate(id, from, to))
}

func (r *testRequestRepoPG) Transition(ctx context.Context, id int64, from, to RequestStatus) (bool, error) {
	return r.exec(ctx, statusUpdate(id, from, to))
}

func (r *testRequestRepoPG) CreateConsultation(ctx context.Context, requestID, doctorID int64) (*Consultation, error) {
	query, args, err := dialect.Insert(tableConsult).
		Rows(goqu.Record{"request_id": requestID, "doctor_id": doctorID, "updated_on": goqu.L("NOW()")}).
		Returning("id", "doctor_id", "updated_on").
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build consultation insert: %w", err)
	}

	c := &Consultation{}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&c.ID, &c.DoctorID, &c.UpdatedOn)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return nil, ErrAlreadyAssigned
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *testRequestRepoPG) SaveConsultation(ctx context.Context, requestID, doctorID int64, suggestion DoctorSuggestion, comments string) (bool, error) {
	query, args, err := dialect.Update(tableConsult).
		Set(goqu.Record{"suggestion": string(suggestion), "comments": comments, "updated_on": goqu.L("NOW()")}).
		Where(goqu.C("request_id").Eq(requestID), goqu.C("doctor_id").Eq(doctorID)).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build consultation update: %w", err)
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type flowRepoPG struct{ pool *pgxpool.Pool }

func NewFlowRepoPG(pool *pgxpool.Pool) FlowRepository {
	return &flowRepoPG{pool: pool}
}

func (r *flowRepoPG) Create(ctx context.Context, f *Flow) error {
	query, args, err := dialect.Insert(tableFlow).
		Rows(goqu.Record{
			"request_id":  f.RequestID,
			"from_status": string(f.FromStatus),
			"to_status":   string(f.ToStatus),
			"changed_by":  f.ChangedBy,
		}).
		Returning("id", "happened_on").
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build flow insert: %w", err)
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&f.ID, &f.HappenedOn)
}
