package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKResult(t *testing.T) {
	res := OK(&Workflow{ID: "wf-1", Name: "nda"})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "ok", res.Message)
	assert.Empty(t, res.Kind)
	require.NotNil(t, res.Data)
}

func TestFailCarriesKindAndSafeMessage(t *testing.T) {
	res := Fail(Errf(KindNotFound, "workflow not found"))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindNotFound, res.Kind)
	assert.Equal(t, "workflow not found", res.Message)
	assert.Nil(t, res.Data)

	// Token failures stay uniform through the envelope too.
	res = Fail(ErrTokenInvalid(errors.New("token already used")))
	assert.Equal(t, KindTokenInvalid, res.Kind)
	assert.Equal(t, SafeMessage(ErrTokenInvalid(nil)), res.Message)
	assert.NotContains(t, res.Message, "already used")

	// Non-engine errors collapse to the generic message and carry no kind.
	res = Fail(errors.New("pq: connection refused"))
	assert.Empty(t, res.Kind)
	assert.NotContains(t, res.Message, "pq:")
}

func TestPartialResultForRemindReport(t *testing.T) {
	report := &RemindReport{
		WorkflowID:       "wf-1",
		Sent:             2,
		Failed:           1,
		FailedRecipients: []string{"rcp-3"},
	}
	require.True(t, report.Partial())

	res := PartialResult("2 of 3 reminders delivered", report)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Same(t, report, res.Data)
}

func TestResultJSONShape(t *testing.T) {
	raw, err := json.Marshal(Fail(Errf(KindValidation, "workflow name is required")))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "error",
		"message": "workflow name is required",
		"kind": "validation"
	}`, string(raw))

	// Success envelopes omit the kind entirely.
	raw, err = json.Marshal(OK(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "success", "message": "ok"}`, string(raw))
}
