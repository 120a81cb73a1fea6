package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	var data PrintStarted
	err := decodeStrict(json.RawMessage(`{"job_id": 1, "bogus": true}`), &data)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "data")
}

func TestDecodeStrictEmptyPayload(t *testing.T) {
	var data StateUpdated
	require.NoError(t, decodeStrict(nil, &data))
	require.Error(t, data.Validate())
}

func TestPrintFeedbackValidation(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		var data PrintFeedback
		require.NoError(t, decodeStrict(json.RawMessage(
			`{"job_id": 3, "feedback_data": {"success": false, "max_priority": true, "printing_seconds": 12.5}}`), &data))
		require.NoError(t, data.Validate())
		require.NotNil(t, data.Feedback.MaxPriority)
		assert.True(t, *data.Feedback.MaxPriority)
	})

	t.Run("missing fields", func(t *testing.T) {
		var data PrintFeedback
		require.NoError(t, decodeStrict(json.RawMessage(`{"job_id": 3, "feedback_data": {}}`), &data))
		err := data.Validate()
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Fields, "feedback_data.success")
		assert.Contains(t, ve.Fields, "feedback_data.printing_seconds")
	})

	t.Run("negative printing seconds", func(t *testing.T) {
		var data PrintFeedback
		require.NoError(t, decodeStrict(json.RawMessage(
			`{"job_id": 3, "feedback_data": {"success": true, "printing_seconds": -1}}`), &data))
		require.Error(t, data.Validate())
	})

	t.Run("max_priority is optional", func(t *testing.T) {
		var data PrintFeedback
		require.NoError(t, decodeStrict(json.RawMessage(
			`{"job_id": 3, "feedback_data": {"success": true, "printing_seconds": 0}}`), &data))
		require.NoError(t, data.Validate())
		assert.Nil(t, data.Feedback.MaxPriority)
	})
}

func TestExtruderInfoValidation(t *testing.T) {
	idx0, idxNeg := 0, -1

	t.Run("duplicate index", func(t *testing.T) {
		data := ExtrudersUpdated{ExtrudersInfo: []ExtruderInfo{{Index: &idx0}, {Index: &idx0}}}
		err := data.Validate()
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Fields, "extruders_info[1].index")
	})

	t.Run("negative index", func(t *testing.T) {
		data := ExtrudersUpdated{ExtrudersInfo: []ExtruderInfo{{Index: &idxNeg}}}
		require.Error(t, data.Validate())
	})

	t.Run("missing index", func(t *testing.T) {
		data := ExtrudersUpdated{ExtrudersInfo: []ExtruderInfo{{}}}
		require.Error(t, data.Validate())
	})

	t.Run("empty list is valid", func(t *testing.T) {
		data := ExtrudersUpdated{}
		require.NoError(t, data.Validate())
	})
}

func TestJobProgressValidation(t *testing.T) {
	id := int64(1)
	good, bad := 55.0, 120.0

	require.NoError(t, (&JobProgressUpdated{ID: &id, Progress: &good}).Validate())
	require.Error(t, (&JobProgressUpdated{ID: &id, Progress: &bad}).Validate())
	require.Error(t, (&JobProgressUpdated{Progress: &good}).Validate())
}

func TestToDBExtruders(t *testing.T) {
	idx := 1
	mat := int64(4)
	out := toDBExtruders(9, []ExtruderInfo{{Index: &idx, MaterialID: &mat}})

	require.Len(t, out, 1)
	assert.EqualValues(t, 9, out[0].PrinterID)
	assert.Equal(t, 1, out[0].Index)
	require.NotNil(t, out[0].MaterialID)
	assert.EqualValues(t, 4, *out[0].MaterialID)
	assert.Nil(t, out[0].ExtruderTypeID)
}

func TestValidationErrorIsError(t *testing.T) {
	ve := newValidationError()
	ve.add("state", "is required")
	var err error = ve
	assert.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "state")
}
