package testrequest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/domain/testrequest/testrequesttest"
	"github.com/upstac/upstac/internal/platform/apperr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to testrequest.RequestStatus
		want     bool
	}{
		{testrequest.StatusInitiated, testrequest.StatusLabTestInProgress, true},
		{testrequest.StatusLabTestInProgress, testrequest.StatusLabTestCompleted, true},
		{testrequest.StatusLabTestCompleted, testrequest.StatusDiagnosisInProcess, true},
		{testrequest.StatusDiagnosisInProcess, testrequest.StatusCompleted, true},
		{testrequest.StatusInitiated, testrequest.StatusCompleted, false},
		{testrequest.StatusLabTestCompleted, testrequest.StatusCompleted, false},
		{testrequest.StatusCompleted, testrequest.StatusInitiated, false},
		{testrequest.StatusDiagnosisInProcess, testrequest.StatusLabTestCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, testrequest.CanTransition(tt.from, tt.to))
		})
	}
}

func TestFlowService_Log(t *testing.T) {
	repo := testrequesttest.NewRepo()
	flow := testrequest.NewFlowService(repo)
	ctx := context.Background()

	_, err := flow.Log(ctx, 1, testrequest.StatusLabTestCompleted, testrequest.StatusDiagnosisInProcess, 7)
	require.NoError(t, err)
	f, err := flow.Log(ctx, 1, testrequest.StatusDiagnosisInProcess, testrequest.StatusCompleted, 7)
	require.NoError(t, err)
	assert.NotZero(t, f.ID)
	assert.Equal(t, int64(1), f.RequestID)

	recorded := repo.Flows()
	require.Len(t, recorded, 2)
	assert.Equal(t, testrequest.StatusDiagnosisInProcess, recorded[0].ToStatus)
	assert.Equal(t, testrequest.StatusCompleted, recorded[1].ToStatus)
	assert.Equal(t, int64(7), recorded[1].ChangedBy)
}

func TestFlowService_RejectsIllegalTransition(t *testing.T) {
	repo := testrequesttest.NewRepo()
	flow := testrequest.NewFlowService(repo)

	_, err := flow.Log(context.Background(), 1, testrequest.StatusInitiated, testrequest.StatusCompleted, 7)
	require.Error(t, err)
	assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
	assert.Empty(t, repo.Flows())
}

func TestFlowService_StoreFailure(t *testing.T) {
	repo := testrequesttest.NewRepo()
	repo.Err = errors.New("disk full")
	flow := testrequest.NewFlowService(repo)

	_, err := flow.Log(context.Background(), 1, testrequest.StatusLabTestCompleted, testrequest.StatusDiagnosisInProcess, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.Err)
}
