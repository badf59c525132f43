package testrequest

import (
	"time"
)

type RequestStatus string

const (
	StatusInitiated          RequestStatus = "INITIATED"
	StatusLabTestInProgress  RequestStatus = "LAB_TEST_IN_PROGRESS"
	StatusLabTestCompleted   RequestStatus = "LAB_TEST_COMPLETED"
	StatusDiagnosisInProcess RequestStatus = "DIAGNOSIS_IN_PROCESS"
	StatusCompleted          RequestStatus = "COMPLETED"
)

type DoctorSuggestion string

const (
	SuggestionNoIssues       DoctorSuggestion = "NO_ISSUES"
	SuggestionHomeQuarantine DoctorSuggestion = "HOME_QUARANTINE"
	SuggestionAdmit          DoctorSuggestion = "ADMIT"
)

type TestResult string

const (
	ResultPositive TestResult = "POSITIVE"
	ResultNegative TestResult = "NEGATIVE"
)

// TestRequest is a patient's request for a test. Once a doctor takes it for
// consultation it carries exactly one Consultation.
type TestRequest struct {
	ID           int64         `db:"id" json:"requestId"`
	Name         string        `db:"name" json:"name"`
	Gender       string        `db:"gender" json:"gender"`
	Age          int           `db:"age" json:"age"`
	Email        string        `db:"email" json:"email"`
	PhoneNumber  string        `db:"phone_number" json:"phoneNumber"`
	Address      string        `db:"address" json:"address"`
	PinCode      int           `db:"pin_code" json:"pinCode"`
	Status       RequestStatus `db:"status" json:"status"`
	CreatedBy    int64         `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time     `db:"created_at" json:"created"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated"`
	LabResult    *LabResult    `json:"labResult,omitempty"`
	Consultation *Consultation `json:"consultation,omitempty"`
}

// DoctorID returns the id of the assigned doctor, or 0 when unassigned.
func (t *TestRequest) DoctorID() int64 {
	if t.Consultation == nil {
		return 0
	}
	return t.Consultation.DoctorID
}

// LabResult is filled in by a tester before the request reaches a doctor.
type LabResult struct {
	ID            int64      `db:"id" json:"resultId"`
	BloodPressure string     `db:"blood_pressure" json:"bloodPressure"`
	HeartBeat     string     `db:"heart_beat" json:"heartBeat"`
	Temperature   string     `db:"temperature" json:"temperature"`
	OxygenLevel   string     `db:"oxygen_level" json:"oxygenLevel"`
	Comments      string     `db:"comments" json:"comments"`
	Result        TestResult `db:"result" json:"result"`
	TesterID      int64      `db:"tester_id" json:"testerId"`
	UpdatedOn     time.Time  `db:"updated_on" json:"updatedOn"`
}

type Consultation struct {
	ID         int64             `db:"id" json:"id"`
	DoctorID   int64             `db:"doctor_id" json:"doctorId"`
	Suggestion *DoctorSuggestion `db:"suggestion" json:"suggestion"`
	Comments   *string           `db:"comments" json:"comments"`
	UpdatedOn  time.Time         `db:"updated_on" json:"updatedOn"`
}

// CreateConsultationRequest is the doctor's verdict on a test request.
type CreateConsultationRequest struct {
	Suggestion DoctorSuggestion `json:"suggestion" validate:"required,oneof=NO_ISSUES HOME_QUARANTINE ADMIT"`
	Comments   string           `json:"comments" validate:"required,max=1000"`
}

// Flow records one status change of a test request.
type Flow struct {
	ID         int64         `db:"id" json:"id"`
	RequestID  int64         `db:"request_id" json:"requestId"`
	FromStatus RequestStatus `db:"from_status" json:"fromStatus"`
	ToStatus   RequestStatus `db:"to_status" json:"toStatus"`
	ChangedBy  int64         `db:"changed_by" json:"changedBy"`
	HappenedOn time.Time     `db:"happened_on" json:"happenedOn"`
}
