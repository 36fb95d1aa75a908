package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/inference-router/models"
	"github.com/upb/inference-router/services/breaker"
	"github.com/upb/inference-router/services/providers"
	"github.com/upb/inference-router/services/quota"
	"github.com/upb/inference-router/services/registry"
	"github.com/upb/inference-router/services/router"
	"github.com/upb/inference-router/utils"
)

// newHandlerRouter builds a router with one always-succeeding model and the
// local fallback
func newHandlerRouter(t *testing.T) *router.Router {
	t.Helper()
	logger := zap.NewNop()
	tracker := quota.NewTracker(logger)
	reg := registry.New(tracker, logger)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := models.NewModelDescriptor(models.ModelParams{
		ID:           "gpt-4o",
		Name:         "GPT-4o",
		ProviderKind: "test",
		Priority:     1,
		QuotaLimit:   1_000_000,
		CostPerToken: 0.001,
	}, breaker.New(breaker.DefaultConfig()), now)
	require.NoError(t, reg.Register(m))

	fallback := models.NewModelDescriptor(models.ModelParams{
		ID:           providers.FallbackProviderName,
		Name:         "Local Fallback",
		ProviderKind: providers.FallbackProviderName,
		Priority:     2,
		Fallback:     true,
	}, nil, now)
	require.NoError(t, reg.Register(fallback))

	reg.RegisterInvoker("test", providers.InvokerFunc(func(ctx context.Context, model, prompt string) (*providers.Result, error) {
		return &providers.Result{Content: "generated for: " + prompt, TokensUsed: 12}, nil
	}))

	return router.New(reg, tracker, nil, router.DefaultConfig(), logger)
}

func TestGenerateHandler_Success(t *testing.T) {
	h := NewGenerateHandler(newHandlerRouter(t), zap.NewNop())

	body, _ := json.Marshal(GenerateRequest{Prompt: "tell me something"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp router.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gpt-4o", resp.ModelID)
	assert.Equal(t, "generated for: tell me something", resp.Content)
	assert.Equal(t, 12, resp.TokensUsed)
	assert.False(t, resp.Fallback)
	assert.NotEmpty(t, resp.RequestID)
}

func TestGenerateHandler_InvalidJSON(t *testing.T) {
	h := NewGenerateHandler(newHandlerRouter(t), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "bad_request", errResp.Error)
}

func TestGenerateHandler_MissingPrompt(t *testing.T) {
	h := NewGenerateHandler(newHandlerRouter(t), zap.NewNop())

	body, _ := json.Marshal(GenerateRequest{Prompt: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Details, "Prompt")
}

func TestGenerateHandler_LocaleTooLong(t *testing.T) {
	h := NewGenerateHandler(newHandlerRouter(t), zap.NewNop())

	body, _ := json.Marshal(GenerateRequest{
		Prompt: "hello",
		Locale: strings.Repeat("x", 17),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateHandler_FallbackStillReturns200(t *testing.T) {
	logger := zap.NewNop()
	tracker := quota.NewTracker(logger)
	reg := registry.New(tracker, logger)
	// no models registered: every request lands on the local fallback
	r := router.New(reg, tracker, nil, router.DefaultConfig(), logger)
	h := NewGenerateHandler(r, logger)

	body, _ := json.Marshal(GenerateRequest{Prompt: "hello", PageContext: "chat", Locale: "en"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp router.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Fallback)
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, 0.0, resp.Cost)
}
