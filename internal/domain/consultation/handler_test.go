package consultation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/domain/testrequest/testrequesttest"
	"github.com/upstac/upstac/internal/domain/user"
	"github.com/upstac/upstac/internal/platform/apperr"
	"github.com/upstac/upstac/internal/platform/auth"
)

var (
	doctorA = &user.User{ID: 10, UserName: "doctor.a", Role: auth.RoleDoctor}
	doctorB = &user.User{ID: 11, UserName: "doctor.b", Role: auth.RoleDoctor}
)

func labCompleted(id int64) *testrequest.TestRequest {
	return &testrequest.TestRequest{ID: id, Name: "patient", Status: testrequest.StatusLabTestCompleted}
}

func inDiagnosis(id int64, doctor *user.User) *testrequest.TestRequest {
	return &testrequest.TestRequest{
		ID:           id,
		Name:         "patient",
		Status:       testrequest.StatusDiagnosisInProcess,
		Consultation: &testrequest.Consultation{ID: id, DoctorID: doctor.ID},
	}
}

// injectUser stands in for user.ResolveUser.
func injectUser(u *user.User) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(user.WithUser(c.Request().Context(), u)))
			return next(c)
		}
	}
}

func newTestHandler(doctor *user.User, seed ...*testrequest.TestRequest) (*Handler, *testrequesttest.Repo, *echo.Echo) {
	repo := testrequesttest.NewRepo(seed...)
	q, u := testrequesttest.Services(repo)
	return NewHandler(q, u, injectUser(doctor)), repo, echo.New()
}

// newContext builds a context as ResolveUser would leave it.
func newContext(e *echo.Echo, method, body string, doctor *user.User) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	ctx := auth.WithIdentity(context.Background(), doctor.UserName, []string{auth.RoleDoctor})
	req = req.WithContext(user.WithUser(ctx, doctor))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []testrequest.TestRequest {
	t.Helper()
	var items []testrequest.TestRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid JSON list %q: %v", rec.Body.String(), err)
	}
	return items
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Fatalf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
	return httpErr
}

// -- List in queue --

func TestHandler_ListInQueue_OnlyUnassigned(t *testing.T) {
	assigned := labCompleted(3)
	assigned.Consultation = &testrequest.Consultation{ID: 3, DoctorID: doctorB.ID}
	h, _, e := newTestHandler(doctorA, labCompleted(1), labCompleted(2), assigned)

	c, rec := newContext(e, http.MethodGet, "", doctorA)
	if err := h.ListInQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	items := decodeList(t, rec)
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 2 {
		t.Errorf("expected requests 1 and 2, got %+v", items)
	}
}

func TestHandler_ListInQueue_Empty(t *testing.T) {
	h, _, e := newTestHandler(doctorA, inDiagnosis(1, doctorA))
	c, rec := newContext(e, http.MethodGet, "", doctorA)
	if err := h.ListInQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected [], got %s", body)
	}
}

// -- List mine --

func TestHandler_ListMine(t *testing.T) {
	h, _, e := newTestHandler(doctorA,
		inDiagnosis(1, doctorA), inDiagnosis(2, doctorB), inDiagnosis(3, doctorA), labCompleted(4))

	c, rec := newContext(e, http.MethodGet, "", doctorA)
	if err := h.ListMine(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := decodeList(t, rec)
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 3 {
		t.Errorf("expected requests 1 and 3, got %+v", items)
	}
}

func TestHandler_ListMine_NoUser(t *testing.T) {
	h, _, e := newTestHandler(doctorA)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	expectHTTPError(t, h.ListMine(c), http.StatusUnauthorized)
}

// -- Assign --

func TestHandler_Assign(t *testing.T) {
	h, _, e := newTestHandler(doctorA, labCompleted(1))
	c, rec := newContext(e, http.MethodPut, "", doctorA)
	if err := h.Assign(withID(c, "1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got testrequest.TestRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Consultation == nil || got.Consultation.DoctorID != doctorA.ID {
		t.Errorf("expected consultation owned by doctor %d, got %+v", doctorA.ID, got.Consultation)
	}
	if got.Status != testrequest.StatusDiagnosisInProcess {
		t.Errorf("expected DIAGNOSIS_IN_PROCESS, got %s", got.Status)
	}
}

func TestHandler_Assign_IneligibleIsBadRequestVerbatim(t *testing.T) {
	h, _, e := newTestHandler(doctorA, inDiagnosis(1, doctorB))
	for _, id := range []string{"1", "999", "abc", "-4"} {
		c, _ := newContext(e, http.MethodPut, "", doctorA)
		httpErr := expectHTTPError(t, h.Assign(withID(c, id)), http.StatusBadRequest)
		if httpErr.Message != testrequest.MsgInvalidIDOrState {
			t.Errorf("id %s: expected message %q, got %v", id, testrequest.MsgInvalidIDOrState, httpErr.Message)
		}
	}
}

// -- Update --

func TestHandler_Update(t *testing.T) {
	h, _, e := newTestHandler(doctorA, inDiagnosis(1, doctorA))
	c, rec := newContext(e, http.MethodPut, `{"suggestion":"NO_ISSUES","comments":"Healthy"}`, doctorA)
	if err := h.Update(withID(c, "1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got testrequest.TestRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Status != testrequest.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.Consultation == nil || got.Consultation.Suggestion == nil || *got.Consultation.Suggestion != testrequest.SuggestionNoIssues {
		t.Errorf("expected NO_ISSUES suggestion, got %+v", got.Consultation)
	}
}

func TestHandler_Update_ValidationIsStructured(t *testing.T) {
	h, _, e := newTestHandler(doctorA, inDiagnosis(1, doctorA))
	c, _ := newContext(e, http.MethodPut, `{"suggestion":"DISCHARGE"}`, doctorA)

	httpErr := expectHTTPError(t, h.Update(withID(c, "1")), http.StatusUnprocessableEntity)
	body, ok := httpErr.Message.(apperr.ValidationBody)
	if !ok {
		t.Fatalf("expected ValidationBody, got %T", httpErr.Message)
	}
	fields := map[string]bool{}
	for _, fe := range body.Errors {
		fields[fe.Field] = true
	}
	if !fields["suggestion"] || !fields["comments"] {
		t.Errorf("expected suggestion and comments errors, got %+v", body.Errors)
	}
}

func TestHandler_Update_OtherDoctor(t *testing.T) {
	h, _, e := newTestHandler(doctorB, inDiagnosis(1, doctorA))
	c, _ := newContext(e, http.MethodPut, `{"suggestion":"ADMIT","comments":"Severe"}`, doctorB)

	httpErr := expectHTTPError(t, h.Update(withID(c, "1")), http.StatusBadRequest)
	if httpErr.Message != testrequest.MsgAssignedToAnother {
		t.Errorf("expected %q, got %v", testrequest.MsgAssignedToAnother, httpErr.Message)
	}
}

func TestHandler_Update_MalformedJSON(t *testing.T) {
	h, _, e := newTestHandler(doctorA, inDiagnosis(1, doctorA))
	c, _ := newContext(e, http.MethodPut, `{"suggestion":`, doctorA)
	expectHTTPError(t, h.Update(withID(c, "1")), http.StatusBadRequest)
}

// -- Routing and role guard --

func serve(e *echo.Echo, method, path, body string, roles ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if roles != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), "someone", roles))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_RequireDoctorRole(t *testing.T) {
	h, repo, e := newTestHandler(doctorA, labCompleted(1), inDiagnosis(2, doctorA))
	h.RegisterRoutes(e.Group("/api"))

	calls := []struct{ method, path, body string }{
		{http.MethodGet, "/api/consultations/in-queue", ""},
		{http.MethodGet, "/api/consultations", ""},
		{http.MethodPut, "/api/consultations/assign/1", ""},
		{http.MethodPut, "/api/consultations/update/2", `{"suggestion":"ADMIT","comments":"x"}`},
		{http.MethodPut, "/api/consultations/update/2", `not even json`},
	}
	for _, call := range calls {
		for _, roles := range [][]string{{auth.RoleTester}, {auth.RoleUser, auth.RoleGovernmentAuthority}, {}} {
			rec := serve(e, call.method, call.path, call.body, roles...)
			if rec.Code != http.StatusForbidden {
				t.Errorf("%s %s with roles %v: expected 403, got %d", call.method, call.path, roles, rec.Code)
			}
		}
	}

	got, _ := repo.GetByID(context.Background(), 1)
	if got.Status != testrequest.StatusLabTestCompleted {
		t.Errorf("rejected calls must not change state, got %s", got.Status)
	}
}

func TestRoutes_RoleGuardRunsBeforeBodyLimit(t *testing.T) {
	h, _, e := newTestHandler(doctorA, inDiagnosis(2, doctorA))
	h.RegisterRoutes(e.Group("/api"), echomw.BodyLimit("1K"))

	oversized := `{"suggestion":"ADMIT","comments":"` + strings.Repeat("x", 4096) + `"}`

	if rec := serve(e, http.MethodPut, "/api/consultations/update/2", oversized, auth.RoleTester); rec.Code != http.StatusForbidden {
		t.Errorf("non-doctor: expected 403 regardless of payload, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodPut, "/api/consultations/update/2", oversized, auth.RoleDoctor); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("doctor: expected 413, got %d", rec.Code)
	}
}

func TestRoutes_InQueueScenario(t *testing.T) {
	assigned := labCompleted(3)
	assigned.Consultation = &testrequest.Consultation{ID: 3, DoctorID: doctorB.ID}
	h, _, e := newTestHandler(doctorA, labCompleted(1), labCompleted(2), assigned)
	h.RegisterRoutes(e.Group("/api"))

	rec := serve(e, http.MethodGet, "/api/consultations/in-queue", "", "ROLE_"+auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	items := decodeList(t, rec)
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 2 {
		t.Errorf("expected exactly requests 1 and 2, got %+v", items)
	}
}

func TestRoutes_AssignThenUpdate(t *testing.T) {
	h, _, e := newTestHandler(doctorA, labCompleted(1))
	h.RegisterRoutes(e.Group("/api"))

	if rec := serve(e, http.MethodPut, "/api/consultations/assign/1", "", auth.RoleDoctor); rec.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := serve(e, http.MethodPut, "/api/consultations/assign/1", "", auth.RoleDoctor); rec.Code != http.StatusBadRequest {
		t.Fatalf("second assign: expected 400, got %d", rec.Code)
	}

	rec := serve(e, http.MethodPut, "/api/consultations/update/1", `{"suggestion":"ADMIT"}`, auth.RoleDoctor)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid update: expected 422, got %d", rec.Code)
	}
	var body apperr.ValidationBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid validation body: %v", err)
	}
	if body.Message != "Validation failed" || len(body.Errors) != 1 || body.Errors[0].Field != "comments" {
		t.Errorf("unexpected validation body: %+v", body)
	}

	rec = serve(e, http.MethodPut, "/api/consultations/update/1", `{"suggestion":"ADMIT","comments":"Low oxygen"}`, auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/consultations", "", auth.RoleDoctor)
	items := decodeList(t, rec)
	if len(items) != 1 || items[0].Status != testrequest.StatusCompleted {
		t.Errorf("expected one completed request, got %+v", items)
	}
}
