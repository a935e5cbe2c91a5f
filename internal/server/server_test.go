// ABOUTME: Tests for the HTTP invoke surface and query routes
// ABOUTME: Exercises dispatch, error envelopes and websocket event streaming

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nainya/custodyledger/internal/logger"
	"github.com/nainya/custodyledger/internal/metrics"
	"github.com/nainya/custodyledger/pkg/evidence"
	"github.com/nainya/custodyledger/pkg/flmodel"
	"github.com/nainya/custodyledger/pkg/ledger"
	"github.com/nainya/custodyledger/pkg/statedb"
	"github.com/nainya/custodyledger/pkg/watchlist"
)

// Collectors register against the default Prometheus registry, so the whole
// test binary shares one Metrics instance.
var (
	testMetricsOnce sync.Once
	testMetrics     *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() { testMetrics = metrics.NewMetrics() })
	return testMetrics
}

func setupTestServer(t *testing.T) (*Server, *EventHub) {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: "error", Output: io.Discard})
	m := sharedMetrics()
	hub := NewEventHub(log, m)

	db := statedb.New()
	engine := ledger.NewEngine(db, ledger.WithNotifier(hub))

	srv := NewServer(
		evidence.New(engine),
		watchlist.New(engine),
		flmodel.New(engine),
		hub,
		log,
		m,
	)
	return srv, hub
}

func invoke(t *testing.T, h http.Handler, contract, function string, args ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"function": function, "args": args})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/contracts/"+contract+"/invoke", bytes.NewReader(body))
	req.Header.Set("content-type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
	Error     *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("Response is not a valid envelope: %v: %s", err, rec.Body.String())
	}
	if env.RequestID == "" {
		t.Error("Expected a request_id on every response")
	}
	return env
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := get(t, srv.Router(), "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("Unexpected health body: %s", rec.Body.String())
	}
}

func TestInvokeEvidenceRoundtrip(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	rec := invoke(t, router, "evidence-contract", "RegisterEvidence",
		"E1", "abc123", `{"cameraId":"C1","detectionType":"face_match","confidence":0.92}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Register: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = get(t, router, "/v1/evidence/E1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Query: expected 200, got %d", rec.Code)
	}
	var record evidence.Record
	if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &record); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if record.EvidenceHash != "abc123" || record.CameraID != "C1" {
		t.Errorf("Record lost on round trip: %+v", record)
	}
	if len(record.ChainOfCustody) != 1 {
		t.Errorf("Expected 1 custody event, got %d", len(record.ChainOfCustody))
	}

	rec = invoke(t, router, "evidence-contract", "UpdateCustody",
		"E1", `{"action":"reviewed","actor":"op1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("UpdateCustody: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = get(t, router, "/v1/evidence/E1/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("History: expected 200, got %d", rec.Code)
	}
	var entries []evidence.HistoryEntry
	if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &entries); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(entries))
	}
}

func TestVerifyEndpointSoftFail(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	rec := invoke(t, router, "evidence-contract", "RegisterEvidence",
		"E1", "abc123", `{"cameraId":"C1","detectionType":"face_match","confidence":0.9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Register failed: %s", rec.Body.String())
	}

	check := func(eventID, hash string, wantValid bool) {
		t.Helper()
		body := fmt.Sprintf(`{"hash":%q}`, hash)
		req := httptest.NewRequest(http.MethodPost, "/v1/evidence/"+eventID+"/verify", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Verify must answer 200 even for failures, got %d", rec.Code)
		}
		var result evidence.Verification
		if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &result); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if result.Valid != wantValid {
			t.Errorf("Verify(%s, %q): expected valid=%v, got %+v", eventID, hash, wantValid, result)
		}
	}

	check("E1", "abc123", true)
	check("E1", "wrong", false)
	check("ghost", "abc123", false)
}

func TestInvokeWatchlistRoundtrip(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	rec := invoke(t, router, "watchlist-contract", "EnrollPerson",
		"P1", `{"name":"Jane Roe","category":"missing","riskLevel":"high","photoHashes":["ph1"],"enrolledBy":"officer7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Enroll: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = invoke(t, router, "watchlist-contract", "UpdatePersonStatus", "P1", "false")
	if rec.Code != http.StatusOK {
		t.Fatalf("UpdateStatus: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = get(t, router, "/v1/watchlist/P1")
	var person watchlist.Person
	if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &person); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if person.IsActive {
		t.Error("Expected person deactivated")
	}

	rec = get(t, router, "/v1/watchlist")
	var persons []watchlist.Person
	if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &persons); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(persons) != 0 {
		t.Errorf("Expected no active persons, got %d", len(persons))
	}
}

func TestInvokeModelRoundtrip(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	for _, epoch := range []string{"5", "2", "9"} {
		rec := invoke(t, router, "fl-contract", "RegisterModelUpdate",
			epoch, fmt.Sprintf(`{"model_hash":"hash%s","client_updates":[{"clientId":"c1"}]}`, epoch))
		if rec.Code != http.StatusOK {
			t.Fatalf("Register epoch %s: expected 200, got %d: %s", epoch, rec.Code, rec.Body.String())
		}
	}

	rec := get(t, router, "/v1/models/latest")
	var update flmodel.Update
	if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &update); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if update.Epoch != 9 {
		t.Errorf("Expected latest epoch 9, got %d", update.Epoch)
	}

	rec = get(t, router, "/v1/models/2")
	if err := json.Unmarshal(decodeEnvelope(t, rec).Result, &update); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if update.ModelHash != "hash2" {
		t.Errorf("Expected hash2, got %s", update.ModelHash)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	rec := invoke(t, router, "evidence-contract", "RegisterEvidence",
		"E1", "abc", `{"cameraId":"C1","detectionType":"face_match","confidence":0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Register failed: %s", rec.Body.String())
	}

	cases := []struct {
		name       string
		rec        *httptest.ResponseRecorder
		wantStatus int
		wantCode   string
	}{
		{
			"missing record",
			get(t, router, "/v1/evidence/ghost"),
			http.StatusNotFound, "NOT_FOUND",
		},
		{
			"duplicate registration",
			invoke(t, router, "evidence-contract", "RegisterEvidence",
				"E1", "abc", `{"cameraId":"C1","detectionType":"face_match","confidence":0.5}`),
			http.StatusConflict, "ALREADY_EXISTS",
		},
		{
			"confidence out of range",
			invoke(t, router, "evidence-contract", "RegisterEvidence",
				"E2", "abc", `{"cameraId":"C1","detectionType":"face_match","confidence":1.5}`),
			http.StatusBadRequest, "MALFORMED_INPUT",
		},
		{
			"wrong arg count",
			invoke(t, router, "evidence-contract", "QueryEvidence"),
			http.StatusBadRequest, "MALFORMED_INPUT",
		},
		{
			"unknown function",
			invoke(t, router, "evidence-contract", "DeleteEvidence", "E1"),
			http.StatusBadRequest, "MALFORMED_INPUT",
		},
		{
			"unknown contract",
			invoke(t, router, "nope-contract", "Query", "x"),
			http.StatusBadRequest, "MALFORMED_INPUT",
		},
		{
			"unparseable epoch",
			get(t, router, "/v1/models/banana"),
			http.StatusBadRequest, "MALFORMED_INPUT",
		},
	}

	for _, tc := range cases {
		if tc.rec.Code != tc.wantStatus {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.wantStatus, tc.rec.Code, tc.rec.Body.String())
			continue
		}
		env := decodeEnvelope(t, tc.rec)
		if env.Error == nil || env.Error.Code != tc.wantCode {
			t.Errorf("%s: expected code %s, got %+v", tc.name, tc.wantCode, env.Error)
		}
	}
}

func TestInvokeRejectsUnknownArgFields(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := invoke(t, srv.Router(), "evidence-contract", "RegisterEvidence",
		"E1", "abc", `{"cameraId":"C1","detectionType":"face_match","confidence":0.5,"backdate":"1999-01-01"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown metadata field, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "MALFORMED_INPUT" {
		t.Errorf("Expected MALFORMED_INPUT, got %+v", env.Error)
	}
}

func TestInvokeRejectsBadJSON(t *testing.T) {
	srv, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/contracts/evidence-contract/invoke",
		strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "BAD_JSON" {
		t.Errorf("Expected BAD_JSON, got %+v", env.Error)
	}
}

func TestWebsocketEventStream(t *testing.T) {
	srv, hub := setupTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// The handler subscribes after the handshake; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.subs)
		hub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Committing through the invoke surface must reach the subscriber.
	rec := invoke(t, srv.Router(), "evidence-contract", "RegisterEvidence",
		"E1", "abc", `{"cameraId":"C1","detectionType":"face_match","confidence":0.8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Register failed: %s", rec.Body.String())
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev ledger.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Name != ledger.EventEvidenceRegistered {
		t.Errorf("Expected EvidenceRegistered, got %s", ev.Name)
	}
	if ev.TxID == "" {
		t.Error("Expected event to carry its transaction ID")
	}
}

func TestEventHubDropsLaggingSubscriber(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: "error", Output: io.Discard})
	hub := NewEventHub(log, nil)

	id, ch := hub.subscribe()
	defer hub.unsubscribe(id)

	// Fill the buffer past capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBufferSize+10; i++ {
			hub.Publish(ledger.Event{Name: "Flood"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a lagging subscriber")
	}
	if len(ch) != eventBufferSize {
		t.Errorf("Expected buffer capped at %d, got %d", eventBufferSize, len(ch))
	}
}
