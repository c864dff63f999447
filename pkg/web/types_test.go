package web_test

import (
	"errors"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/dukex/convoflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartExecutionRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name      string
		request   web.StartExecutionRequest
		wantErr   bool
		errFields []string
	}{
		{
			name:    "valid request",
			request: startBody(),
		},
		{
			name:    "channel and variables are optional",
			request: web.StartExecutionRequest{ChatbotID: "bot", ConversationID: "c", ContactID: "p", TenantID: "t"},
		},
		{
			name:      "missing everything",
			request:   web.StartExecutionRequest{},
			wantErr:   true,
			errFields: []string{"ChatbotID", "ConversationID", "ContactID", "TenantID"},
		},
		{
			name: "missing tenant",
			request: web.StartExecutionRequest{
				ChatbotID:      "bot",
				ConversationID: "c",
				ContactID:      "p",
			},
			wantErr:   true,
			errFields: []string{"TenantID"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))

			fields := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				fields = append(fields, fieldErr.Field())
			}

			assert.ElementsMatch(t, tt.errFields, fields)
		})
	}
}

func TestConversationEventRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	assert.NoError(t, v.Struct(web.ConversationEventRequest{EventID: "evt-1"}))
	assert.Error(t, v.Struct(web.ConversationEventRequest{Payload: map[string]any{"text": "hi"}}))
}

func TestTransformExecutionResponse(t *testing.T) {
	t.Parallel()

	assert.Nil(t, web.TransformExecutionResponse(nil))

	record := testutil.CreateTestRecord("bot", "conv-1", func(r *models.ExecutionRecord) {
		r.Variables = map[string]any{"reply": "yes"}
		r.MarkEventProcessed("evt-1")
	})

	response := web.TransformExecutionResponse(record)
	require.NotNil(t, response)
	assert.Equal(t, record.ID, response.ID)
	assert.Equal(t, "conv-1", response.ConversationID)
	assert.Equal(t, record.Status, response.Status)
	assert.Equal(t, "yes", response.Variables["reply"])
	assert.Equal(t, record.StartedAt, response.StartedAt)
}
