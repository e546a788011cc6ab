package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/tender"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		status   int
	}{
		{"model unavailable", predict.ErrModelUnavailable, CategoryModelUnavailable, http.StatusServiceUnavailable},
		{"wrapped model unavailable", fmt.Errorf("reload: %w", predict.ErrModelUnavailable), CategoryModelUnavailable, http.StatusServiceUnavailable},
		{"no baseline", artifacts.ErrNoBaseline, CategoryModelUnavailable, http.StatusServiceUnavailable},
		{"missing columns", fmt.Errorf("upload.csv: %w: ocid", tender.ErrMissingColumns), CategoryValidation, http.StatusBadRequest},
		{"malformed row", tender.ErrMalformedRow, CategoryValidation, http.StatusBadRequest},
		{"single class", ml.ErrSingleClass, CategoryTraining, http.StatusUnprocessableEntity},
		{"too few samples", ml.ErrInsufficientSamples, CategoryTraining, http.StatusUnprocessableEntity},
		{"feature mismatch", features.ErrFeatureMismatch, CategoryConfiguration, http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, CategoryTimeout, http.StatusGatewayTimeout},
		{"body too large", fmt.Errorf("line 9: %w", &http.MaxBytesError{Limit: 10}), CategoryValidation, http.StatusRequestEntityTooLarge},
		{"unknown", fmt.Errorf("disk on fire"), CategoryInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := ToAppError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.category, appErr.Category)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}

	assert.Nil(t, ToAppError(nil))
}

func TestToAppErrorKeepsAppErrors(t *testing.T) {
	original := NewRateLimitError("60s")
	assert.Same(t, original, ToAppError(fmt.Errorf("wrapped: %w", original)))
}

func TestAppErrorMessages(t *testing.T) {
	validation := NewValidationError("bad amount", "tender/value/amount")
	assert.Equal(t, "[VALIDATION_ERROR] bad amount", validation.Error())
	assert.Equal(t, http.StatusBadRequest, validation.HTTPStatus)

	unavailable := NewModelUnavailableError(predict.ErrModelUnavailable)
	assert.Equal(t, "[MODEL_UNAVAILABLE] Model not trained yet", unavailable.Error())
	assert.ErrorIs(t, unavailable, predict.ErrModelUnavailable)

	custom := NewAppError(errbuilder.New().WithCode(errbuilder.CodeInvalidArgument).WithMsg("custom"), CategoryValidation, 400)
	assert.Equal(t, "custom", custom.Msg)

	missing := NewNotFoundError("No scored corpus yet", nil)
	assert.Equal(t, http.StatusNotFound, missing.HTTPStatus)
	assert.Equal(t, CategoryNotFound, missing.Category)

	fields := BuildValidationError("Missing required tender fields", map[string]string{"tender/value/amount": "required"})
	assert.Equal(t, CategoryValidation, fields.Category)
	assert.Equal(t, http.StatusBadRequest, fields.HTTPStatus)
	assert.Equal(t, map[string]string{"tender/value/amount": "required"}, fields.Response()["fields"])
	assert.NotContains(t, validation.Response(), "fields")
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ignored"))

	err := WrapError(predict.ErrModelUnavailable, "stage %s", "train")
	assert.EqualError(t, err, "stage train: model unavailable")
	assert.ErrorIs(t, err, predict.ErrModelUnavailable)
}

type closer struct {
	closed bool
	err    error
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestSafeClose(t *testing.T) {
	tests := []struct {
		name string
		c    *closer
	}{
		{"clean close", &closer{}},
		{"close error is swallowed", &closer{err: errors.New("disk gone")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() { SafeClose(tt.c, "registry") })
			assert.True(t, tt.c.closed)
		})
	}
	assert.NotPanics(t, func() { SafeClose(nil, "nothing") })
}

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryHandler(), ErrorHandler())
	r.GET("/unavailable", func(c *gin.Context) { _ = c.Error(predict.ErrModelUnavailable) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	tests := []struct {
		path     string
		status   int
		category string
	}{
		{"/unavailable", http.StatusServiceUnavailable, string(CategoryModelUnavailable)},
		{"/panic", http.StatusInternalServerError, string(CategoryInternal)},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.category, body["category"])
		})
	}
}
