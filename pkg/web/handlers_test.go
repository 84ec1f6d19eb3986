package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence/memory"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/web"
)

const sampleFlowJSON = `{
  "id": "flow-main",
  "name": "Main Routing",
  "version": "1",
  "entry": {"id": "entry", "type": "entry", "target": "menu"},
  "nodes": [
    {
      "id": "menu",
      "type": "ivr",
      "prompt": "Press 1 for sales",
      "maxDigits": 1,
      "choices": [{"digits": "1", "target": "route"}],
      "default": "bye"
    },
    {
      "id": "route",
      "type": "buyer",
      "buyers": [{"id": "b1", "destination": "+15550001111"}],
      "next": "bye"
    },
    {"id": "bye", "type": "hangup"}
  ]
}`

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]events.Event(nil), p.events...)
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Store, *callstate.MemoryStore, *recordingPublisher) {
	t.Helper()

	flowStore := memory.NewStore()
	calls := callstate.NewMemoryStore()
	publisher := &recordingPublisher{}
	handlers := web.NewAPIHandlers(flowStore, calls, publisher, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	f := app.Group("/flows")
	f.Get("/", handlers.ListFlows)
	f.Post("/", handlers.CreateFlow)
	f.Post("/validate", handlers.ValidateFlow)
	f.Get("/:id/versions", handlers.GetFlowVersions)
	f.Get("/:id/versions/:version", handlers.GetFlowVersion)
	f.Get("/:id/published", handlers.GetPublishedFlow)
	f.Post("/:id/versions/:version/publish", handlers.PublishFlowVersion)
	f.Post("/:id/versions/:version/rollback", handlers.RollbackFlowVersion)
	f.Delete("/:id/versions/:version", handlers.DeleteFlowVersion)

	app.Post("/calls/execute", handlers.ExecuteCall)
	app.Post("/calls/events", handlers.PushCallEvent)
	app.Get("/calls/:id", handlers.GetCall)
	app.Get("/health", handlers.HealthCheck)

	return app, flowStore, calls, publisher
}

func createRequest(t *testing.T, body any) *http.Request {
	t.Helper()

	var payload []byte

	if str, ok := body.(string); ok {
		payload = []byte(str)
	} else {
		var err error

		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/flows/", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")

	return req
}

func TestAPIHandlers_CreateFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateFlowRequest{
				TenantID:  "tenant-1",
				CreatedBy: "test-user",
				Flow:      json.RawMessage(sampleFlowJSON),
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing tenant",
			requestBody: web.CreateFlowRequest{
				CreatedBy: "test-user",
				Flow:      json.RawMessage(sampleFlowJSON),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid flow document",
			requestBody: web.CreateFlowRequest{
				TenantID:  "tenant-1",
				CreatedBy: "test-user",
				Flow:      json.RawMessage(`{"id": "f", "name": "f", "version": "1"}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _, _, _ := setupTestApp(t)

			resp, err := app.Test(createRequest(t, tt.requestBody))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)

				var created web.FlowVersionResponse

				require.NoError(t, json.Unmarshal(body, &created))
				assert.Equal(t, "flow-main", created.FlowID)
				assert.Equal(t, "tenant-1", created.TenantID)
				assert.Equal(t, 1, created.Version)
				assert.False(t, created.IsActive)
				assert.NotEmpty(t, created.ID)
			}
		})
	}
}

func TestAPIHandlers_ValidateFlow(t *testing.T) {
	t.Parallel()

	app, _, _, _ := setupTestApp(t)

	body, err := json.Marshal(web.ValidateFlowRequest{Flow: json.RawMessage(sampleFlowJSON)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/flows/validate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.ValidateFlowResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
}

func TestAPIHandlers_ValidateFlowReportsIssues(t *testing.T) {
	t.Parallel()

	app, _, _, _ := setupTestApp(t)

	doc := `{
	  "id": "f", "name": "f", "version": "1",
	  "entry": {"id": "entry", "type": "entry", "target": "menu"},
	  "nodes": [
	    {"id": "menu", "type": "ivr", "prompt": "hi", "choices": [{"digits": "1", "target": "missing"}]}
	  ]
	}`

	body, err := json.Marshal(web.ValidateFlowRequest{Flow: json.RawMessage(doc)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/flows/validate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.ValidateFlowResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Issues)
}

func TestAPIHandlers_PublishAndRollback(t *testing.T) {
	t.Parallel()

	app, flowStore, _, _ := setupTestApp(t)
	ctx := context.Background()

	v1, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(ctx, v1, "tenant-1", "test-user")
	require.NoError(t, err)

	v2, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	v2.Version = "2"

	_, err = flowStore.StoreFlow(ctx, v2, "tenant-1", "test-user")
	require.NoError(t, err)

	post := func(version, op string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/flows/flow-main/versions/"+version+"/"+op, nil)

		resp, err := app.Test(req)
		require.NoError(t, err)

		return resp
	}

	resp := post("1", "publish")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("2", "publish")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var published web.FlowVersionResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&published))
	assert.Equal(t, 2, published.Version)
	assert.True(t, published.IsActive)

	// rollback reactivates the previously published version
	resp = post("1", "rollback")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var restored web.FlowVersionResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&restored))
	assert.Equal(t, 1, restored.Version)
	assert.True(t, restored.IsActive)

	current, err := flowStore.GetPublishedFlow(ctx, "flow-main")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)

	resp = post("9", "rollback")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_RollbackUnpublishedVersionConflicts(t *testing.T) {
	t.Parallel()

	app, flowStore, _, _ := setupTestApp(t)
	ctx := context.Background()

	f, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(ctx, f, "tenant-1", "test-user")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/flows/flow-main/versions/1/rollback", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_DeleteActiveVersionConflicts(t *testing.T) {
	t.Parallel()

	app, flowStore, _, _ := setupTestApp(t)
	ctx := context.Background()

	f, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(ctx, f, "tenant-1", "test-user")
	require.NoError(t, err)

	_, err = flowStore.PublishFlow(ctx, "flow-main", 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/flows/flow-main/versions/1", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetFlowVersionNotFound(t *testing.T) {
	t.Parallel()

	app, _, _, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/flows/nope/versions/1", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetPublishedFlowWithoutPublish(t *testing.T) {
	t.Parallel()

	app, flowStore, _, _ := setupTestApp(t)

	f, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(context.Background(), f, "tenant-1", "test-user")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/flows/flow-main/published", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ListFlowsRequiresTenant(t *testing.T) {
	t.Parallel()

	app, _, _, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/flows/", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_GetCall(t *testing.T) {
	t.Parallel()

	app, _, calls, _ := setupTestApp(t)

	err := calls.Save(context.Background(), &callstate.Call{
		ID:         "call-1",
		TenantID:   "tenant-1",
		FlowID:     "flow-main",
		FromNumber: "+15550002222",
		ToNumber:   "+15550003333",
		Status:     callstate.StatusAnswered,
		StartedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/calls/call-1", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var call web.CallResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&call))
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, string(callstate.StatusAnswered), call.Status)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/calls/missing", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecuteCall(t *testing.T) {
	t.Parallel()

	app, flowStore, _, publisher := setupTestApp(t)
	ctx := context.Background()

	f, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(ctx, f, "tenant-1", "test-user")
	require.NoError(t, err)

	_, err = flowStore.PublishFlow(ctx, "flow-main", 1)
	require.NoError(t, err)

	body, err := json.Marshal(web.ExecuteCallRequest{
		TenantID:   "tenant-1",
		FlowID:     "flow-main",
		FromNumber: "+15550002222",
		ToNumber:   "+15550003333",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/calls/execute", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted web.ExecuteCallResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.NotEmpty(t, accepted.CallID)
	assert.Equal(t, "flow-main", accepted.FlowID)

	published := publisher.published()
	require.Len(t, published, 1)

	started, ok := published[0].(events.CallStarted)
	require.True(t, ok)
	assert.Equal(t, accepted.CallID, started.CallID)
	assert.Equal(t, "tenant-1", started.TenantID)
	assert.Equal(t, "+15550002222", started.FromNumber)
}

func TestAPIHandlers_ExecuteCallUnpublishedFlow(t *testing.T) {
	t.Parallel()

	app, flowStore, _, publisher := setupTestApp(t)
	ctx := context.Background()

	f, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(ctx, f, "tenant-1", "test-user")
	require.NoError(t, err)

	body, err := json.Marshal(web.ExecuteCallRequest{
		TenantID:   "tenant-1",
		FlowID:     "flow-main",
		FromNumber: "+15550002222",
		ToNumber:   "+15550003333",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/calls/execute", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, publisher.published())
}

func TestAPIHandlers_PushCallEvent(t *testing.T) {
	t.Parallel()

	app, _, calls, publisher := setupTestApp(t)

	require.NoError(t, calls.Save(context.Background(), &callstate.Call{
		ID:       "call-1",
		TenantID: "tenant-1",
		FlowID:   "flow-main",
		Status:   callstate.StatusAnswered,
	}))

	push := func(body web.CallEventRequest) *http.Response {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/calls/events", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)

		return resp
	}

	resp := push(web.CallEventRequest{CallID: "call-1", Type: "dtmf.received", Digits: "1"})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	published := publisher.published()
	require.Len(t, published, 1)

	dtmf, ok := published[0].(events.DTMFReceived)
	require.True(t, ok)
	assert.Equal(t, "call-1", dtmf.CallID)
	assert.Equal(t, "1", dtmf.Digits)

	// unknown call
	resp = push(web.CallEventRequest{CallID: "ghost", Type: "dtmf.received", Digits: "1"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// unsupported type
	resp = push(web.CallEventRequest{CallID: "call-1", Type: "call.teleported"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _, _, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
}
