package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/notiflow/pkg/delivery"
	"github.com/dukex/notiflow/pkg/engine"
	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/registry"
	"github.com/dukex/notiflow/pkg/testutil"
	"github.com/dukex/notiflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentRequests struct {
	mu       sync.Mutex
	requests []delivery.Request
}

func (s *sentRequests) all() []delivery.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]delivery.Request(nil), s.requests...)
}

func setupTestApp(t *testing.T) (*fiber.App, *sentRequests) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sent := &sentRequests{}

	deliverer := delivery.Func(func(_ context.Context, req delivery.Request) (delivery.Result, error) {
		sent.mu.Lock()
		defer sent.mu.Unlock()

		sent.requests = append(sent.requests, req)

		return delivery.Result{Provider: "test", MessageID: "msg-1", Status: delivery.StatusSent}, nil
	})

	executor := engine.NewExecutor(engine.WithDeliverer(deliverer), engine.WithLogger(logger))
	reg := registry.NewRegistry(registry.WithExecutor(executor), registry.WithLogger(logger))

	render := func(_ context.Context, in models.StepInput) (map[string]any, error) {
		return map[string]any{"body": "New comment: " + in.Payload["comment"].(string)}, nil
	}

	_, err := reg.Register("comment-notification", []*models.Step{
		testutil.CreateTestStep(testutil.WithStepID("in_app"), testutil.WithRender(render)),
		testutil.CreateTestStep(testutil.WithStepID("email"), testutil.WithStepType(models.StepTypeEmail), testutil.WithRender(render)),
	}, models.ObjectSchema(map[string]*models.Property{
		"comment": {Type: "string"},
		"post_id": {Type: "string"},
	}, "comment"))
	require.NoError(t, err)

	_, err = reg.Register("fragile", []*models.Step{
		testutil.CreateTestStep(testutil.WithStepID("in_app")),
		testutil.CreateTestStep(testutil.WithStepID("email"), testutil.WithStepType(models.StepTypeEmail),
			testutil.WithRender(func(context.Context, models.StepInput) (map[string]any, error) {
				return nil, errors.New("template exploded")
			})),
		testutil.CreateTestStep(testutil.WithStepID("sms"), testutil.WithStepType(models.StepTypeSMS)),
	}, nil)
	require.NoError(t, err)

	handlers := web.NewBridgeHandlers(reg, validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()
	handlers.Mount(app.Group("/api/novu"))

	return app, sent
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))

	return resp.StatusCode, decoded
}

func TestBridge_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for _, target := range []string{"/api/novu", "/api/novu?action=health-check"} {
		status, body := doRequest(t, app, http.MethodGet, target, "")

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, registry.SDKVersion, body["sdkVersion"])
		assert.Equal(t, map[string]any{"workflows": float64(2), "steps": float64(5)}, body["discovered"])
	}
}

func TestBridge_Discover(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/api/novu?action=discover", "")
	require.Equal(t, http.StatusOK, status)

	workflows := body["workflows"].([]any)
	require.Len(t, workflows, 2)

	first := workflows[0].(map[string]any)
	assert.Equal(t, "comment-notification", first["workflowId"])

	steps := first["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "email", steps[1].(map[string]any)["stepId"])

	payload := first["payload"].(map[string]any)["schema"].(map[string]any)
	assert.Equal(t, []any{"comment"}, payload["required"])

	status, body = doRequest(t, app, http.MethodGet, "/api/novu?action=discover&workflowId=fragile", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["workflows"], 1)

	status, body = doRequest(t, app, http.MethodGet, "/api/novu?action=discover&workflowId=missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["type"])
}

func TestBridge_Code(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	tests := []struct {
		name           string
		target         string
		expectedStatus int
		contains       string
	}{
		{"step code", "/api/novu?action=code&workflowId=comment-notification&stepId=email", http.StatusOK, `step.email("email"`},
		{"workflow code", "/api/novu?action=code&workflowId=comment-notification", http.StatusOK, `workflow("comment-notification"`},
		{"missing workflow id", "/api/novu?action=code", http.StatusBadRequest, ""},
		{"unknown step", "/api/novu?action=code&workflowId=comment-notification&stepId=push", http.StatusNotFound, ""},
		{"unknown workflow", "/api/novu?action=code&workflowId=missing&stepId=email", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodGet, tt.target, "")

			assert.Equal(t, tt.expectedStatus, status)

			if tt.contains != "" {
				assert.Contains(t, body["code"], tt.contains)
			}
		})
	}
}

func TestBridge_UnknownAction(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/api/novu?action=dance", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])
	assert.Contains(t, body["detail"], "dance")

	status, _ = doRequest(t, app, http.MethodPost, "/api/novu?action=discover", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBridge_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{
			name:   "action query",
			target: "/api/novu?action=execute&workflowId=comment-notification",
			body:   `{"to": "subscriber-1", "payload": {"comment": "nice post", "post_id": "p1"}}`,
		},
		{
			name:   "workflow route",
			target: "/api/novu/workflows/comment-notification/execute",
			body:   `{"to": {"subscriberId": "subscriber-1"}, "payload": {"comment": "nice post"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, sent := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, tt.target, tt.body)
			require.Equal(t, http.StatusOK, status, body)

			assert.Equal(t, "completed", body["status"])
			assert.Equal(t, "comment-notification", body["workflowId"])
			assert.Regexp(t, `^exec-`, body["executionId"])
			assert.Equal(t, float64(2), body["steps_executed"])

			results := body["results"].(map[string]any)
			email := results["email"].(map[string]any)
			assert.Equal(t, "completed", email["status"])
			assert.Equal(t, "New comment: nice post", email["output"].(map[string]any)["body"])
			assert.Equal(t, "msg-1", email["delivery"].(map[string]any)["message_id"])

			requests := sent.all()
			require.Len(t, requests, 2)
			assert.Equal(t, "subscriber-1", requests[0].Recipient)
		})
	}
}

func TestBridge_ExecuteRecipientObject(t *testing.T) {
	t.Parallel()

	app, sent := setupTestApp(t)

	status, _ := doRequest(t, app, http.MethodPost, "/api/novu/workflows/comment-notification/execute",
		`{"to": {"subscriberId": "subscriber-1", "email": "ana@example.com"}, "payload": {"comment": "hi"}, "metadata": {"source": "test"}}`)
	require.Equal(t, http.StatusOK, status)

	requests := sent.all()
	require.NotEmpty(t, requests)
	assert.Equal(t, "subscriber-1", requests[0].Recipient)
	assert.Equal(t, "test", requests[0].Metadata["source"])
	assert.Equal(t, map[string]any{"email": "ana@example.com"}, requests[0].Metadata["subscriber"])
}

func TestBridge_ExecuteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		target         string
		body           string
		expectedStatus int
		expectedType   string
	}{
		{"missing workflow id", "/api/novu?action=execute", `{"to": "s", "payload": {}}`, http.StatusBadRequest, "validation_error"},
		{"invalid json", "/api/novu?action=execute&workflowId=comment-notification", `{"to": `, http.StatusBadRequest, "validation_error"},
		{"missing recipient", "/api/novu?action=execute&workflowId=comment-notification", `{"payload": {"comment": "hi"}}`, http.StatusBadRequest, "validation_error"},
		{"recipient of wrong type", "/api/novu?action=execute&workflowId=comment-notification", `{"to": 42, "payload": {"comment": "hi"}}`, http.StatusBadRequest, "validation_error"},
		{"payload fails schema", "/api/novu?action=execute&workflowId=comment-notification", `{"to": "s", "payload": {}}`, http.StatusBadRequest, "validation_error"},
		{"unknown workflow", "/api/novu/workflows/missing/execute", `{"to": "s", "payload": {}}`, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, sent := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, tt.target, tt.body)

			assert.Equal(t, tt.expectedStatus, status, body)
			assert.Equal(t, tt.expectedType, body["type"])
			assert.Empty(t, sent.all())
		})
	}
}

func TestBridge_ExecuteStepFailure(t *testing.T) {
	t.Parallel()

	app, sent := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/api/novu/workflows/fragile/execute", `{"to": "subscriber-1", "payload": {}}`)
	require.Equal(t, http.StatusInternalServerError, status)

	assert.Equal(t, "step_execution_error", body["type"])
	assert.Contains(t, body["detail"], "template exploded")

	execution := body["execution"].(map[string]any)
	assert.Equal(t, "failed", execution["status"])
	assert.Equal(t, float64(2), execution["steps_executed"])

	results := execution["results"].(map[string]any)
	assert.Equal(t, "completed", results["in_app"].(map[string]any)["status"])
	assert.Equal(t, "failed", results["email"].(map[string]any)["status"])
	assert.Equal(t, "pending", results["sms"].(map[string]any)["status"])

	assert.Len(t, sent.all(), 1)
}
