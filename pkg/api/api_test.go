package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/core/queue"
	"github.com/LENAX/aether/pkg/core/registry"
	"github.com/LENAX/aether/pkg/core/task"
	"github.com/LENAX/aether/pkg/storage/memory"
)

type apiHarness struct {
	eng         *engine.Engine
	bus         *event.Bus
	coordinator *httptest.Server
	monitor     *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	bus := event.NewBus()
	q := queue.New(time.Minute)
	reg := registry.New(time.Minute)
	eng := engine.New(memory.New(), bus, q, reg, engine.Options{
		DefaultRetry: task.RetryPolicy{
			MaxRetries:        3,
			InitialInterval:   time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	})
	require.NoError(t, eng.Start(context.Background()))

	h := &apiHarness{
		eng:         eng,
		bus:         bus,
		coordinator: httptest.NewServer(SetupCoordinatorRouter(eng)),
		monitor:     httptest.NewServer(SetupMonitorRouter(eng, "test")),
	}
	t.Cleanup(func() {
		h.coordinator.Close()
		h.monitor.Close()
		eng.Stop()
		bus.Close()
	})
	return h
}

func (h *apiHarness) postJSON(t *testing.T, path string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, h.coordinator.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (h *apiHarness) registerWorker(t *testing.T, types ...string) (string, string) {
	t.Helper()
	resp, body := h.postJSON(t, "/workers", dto.RegisterWorkerRequest{
		ServiceName:   "test-service",
		Group:         "test-group",
		WorkflowTypes: types,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg dto.RegisterWorkerResponse
	require.NoError(t, json.Unmarshal(body, &reg))
	return reg.WorkerID, reg.SessionToken
}

func (h *apiHarness) startWorkflow(t *testing.T, workflowType string, input string) string {
	t.Helper()
	resp, body := h.postJSON(t, "/workflows", dto.StartWorkflowRequest{
		WorkflowType: workflowType,
		Input:        json.RawMessage(input),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started dto.StartWorkflowResponse
	require.NoError(t, json.Unmarshal(body, &started))
	return started.WorkflowID
}

func (h *apiHarness) pollOne(t *testing.T, token string) dto.TaskPayload {
	t.Helper()
	var payload dto.TaskPayload
	require.Eventually(t, func() bool {
		resp, body := h.postJSON(t, "/workers/poll", dto.PollTasksRequest{Max: 1}, map[string]string{"X-Session-Token": token})
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var poll dto.PollTasksResponse
		if err := json.Unmarshal(body, &poll); err != nil || len(poll.Tasks) == 0 {
			return false
		}
		payload = poll.Tasks[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return payload
}

func TestStartAndStatus(t *testing.T) {
	h := newAPIHarness(t)

	id := h.startWorkflow(t, "greet", `"World"`)

	resp, err := http.Get(h.coordinator.URL + "/workflows/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status dto.WorkflowStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, id, status.WorkflowID)
	assert.Equal(t, "running", status.State)
	assert.NotZero(t, status.StartedAt)
}

func TestStatusNotFound(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.coordinator.URL + "/workflows/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "not-found", apiErr.Code)
}

func TestPollCompleteAwaitFlow(t *testing.T) {
	h := newAPIHarness(t)

	id := h.startWorkflow(t, "greet", `"World"`)
	_, token := h.registerWorker(t, "greet")

	payload := h.pollOne(t, token)
	assert.Equal(t, "start", payload.StepName)
	assert.Equal(t, "greet", payload.WorkflowType)
	assert.JSONEq(t, `"World"`, string(payload.Input))

	resp, _ := h.postJSON(t, "/steps/"+payload.TaskID+"/complete", dto.CompleteStepRequest{
		Result: json.RawMessage(`"Hello, World!"`),
	}, map[string]string{"X-Session-Token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result, err := http.Get(h.coordinator.URL + "/workflows/" + id + "/result?timeout=5s")
	require.NoError(t, err)
	defer result.Body.Close()
	require.Equal(t, http.StatusOK, result.StatusCode)

	var res dto.WorkflowResultResponse
	require.NoError(t, json.NewDecoder(result.Body).Decode(&res))
	assert.Equal(t, "completed", res.State)
	assert.JSONEq(t, `"Hello, World!"`, string(res.Result))
}

func TestResultStillRunning(t *testing.T) {
	h := newAPIHarness(t)
	id := h.startWorkflow(t, "greet", `null`)

	resp, err := http.Get(h.coordinator.URL + "/workflows/" + id + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var still dto.StillRunningResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&still))
	assert.Equal(t, "still_running", still.Status)
}

func TestCancelWorkflowHTTP(t *testing.T) {
	h := newAPIHarness(t)
	id := h.startWorkflow(t, "greet", `null`)

	req, err := http.NewRequest(http.MethodDelete, h.coordinator.URL+"/workflows/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancel dto.CancelWorkflowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cancel))
	assert.Equal(t, "accepted", cancel.Status)

	// 再取消：already_terminal
	req, err = http.NewRequest(http.MethodDelete, h.coordinator.URL+"/workflows/"+id, nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var cancel2 dto.CancelWorkflowResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&cancel2))
	assert.Equal(t, "already_terminal", cancel2.Status)
}

func TestRegisterDuplicateWorkerHTTP(t *testing.T) {
	h := newAPIHarness(t)

	resp, _ := h.postJSON(t, "/workers", dto.RegisterWorkerRequest{
		WorkerID:    "worker-1",
		ServiceName: "svc",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := h.postJSON(t, "/workers", dto.RegisterWorkerRequest{
		WorkerID:    "worker-1",
		ServiceName: "svc",
	}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var apiErr dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "duplicate", apiErr.Code)
}

func TestReportStepHTTP(t *testing.T) {
	h := newAPIHarness(t)
	id := h.startWorkflow(t, "slow-process", `null`)

	for _, step := range []string{"step-1-init", "step-2-process"} {
		resp, _ := h.postJSON(t, "/steps/report", dto.ReportStepRequest{
			WorkflowID: id,
			StepName:   step,
			Status:     "started",
		}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = h.postJSON(t, "/steps/report", dto.ReportStepRequest{
			WorkflowID: id,
			StepName:   step,
			Status:     "completed",
			Payload:    json.RawMessage(`"ok"`),
		}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(h.monitor.URL + "/api/v1/workflows/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	var detail dto.WorkflowDetailInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	require.Len(t, detail.StepExecutions, 2)
	assert.Equal(t, "step-1-init", detail.StepExecutions[0].StepName)
	assert.Equal(t, "completed", detail.StepExecutions[0].Status)
}

func TestHealthAndReady(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.monitor.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.monitor.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func readWSJSON(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestMonitorWebSocketQueries(t *testing.T) {
	h := newAPIHarness(t)
	id := h.startWorkflow(t, "greet", `null`)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.monitor.URL, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// 单元变体是裸字符串
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`"ListAllWorkflows"`)))
	reply := readWSJSON(t, conn)
	listRaw, ok := reply["WorkflowList"]
	require.True(t, ok, "expected WorkflowList, got %v", reply)
	var list struct {
		Workflows []map[string]interface{} `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(listRaw, &list))
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, id, list.Workflows[0]["workflow_id"])

	// 结构变体是单键对象
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(fmt.Sprintf(`{"GetWorkflow":{"workflow_id":%q}}`, id))))
	reply = readWSJSON(t, conn)
	_, ok = reply["WorkflowDetail"]
	assert.True(t, ok, "expected WorkflowDetail, got %v", reply)

	// 未知请求回Error
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`"Bogus"`)))
	reply = readWSJSON(t, conn)
	_, ok = reply["Error"]
	assert.True(t, ok)
}

func TestMonitorWebSocketEventPush(t *testing.T) {
	h := newAPIHarness(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.monitor.URL, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// 等服务端goroutine完成订阅注册
	time.Sleep(100 * time.Millisecond)

	id := h.startWorkflow(t, "greet", `"x"`)

	reply := readWSJSON(t, conn)
	var eventType, workflowID string
	require.NoError(t, json.Unmarshal(reply["event_type"], &eventType))
	require.NoError(t, json.Unmarshal(reply["workflow_id"], &workflowID))
	assert.Equal(t, "workflow:started", eventType)
	assert.Equal(t, id, workflowID)
}

func TestWorkerTaskStream(t *testing.T) {
	h := newAPIHarness(t)

	workerID, token := h.registerWorker(t, "greet")
	id := h.startWorkflow(t, "greet", `"x"`)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(h.coordinator.URL, "/workers/"+workerID+"/tasks?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string          `json:"type"`
		Payload dto.TaskPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "task", msg.Type)
	assert.Equal(t, id, msg.Payload.WorkflowID)
	assert.Equal(t, "start", msg.Payload.StepName)

	// 回ACK后完成任务
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ack", "task_id": msg.Payload.TaskID}))
	resp, _ := h.postJSON(t, "/steps/"+msg.Payload.TaskID+"/complete", dto.CompleteStepRequest{
		Result: json.RawMessage(`"done"`),
	}, map[string]string{"X-Session-Token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result, err := http.Get(h.coordinator.URL + "/workflows/" + id + "/result?timeout=5s")
	require.NoError(t, err)
	defer result.Body.Close()
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestWorkerStreamRejectsBadToken(t *testing.T) {
	h := newAPIHarness(t)
	workerID, _ := h.registerWorker(t, "greet")

	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(h.coordinator.URL, "/workers/"+workerID+"/tasks?token=bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
