package webhooks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/security"
)

func TestHTTPHandler_ServesDeliveries(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-x", Path: "/hooks/x", AuthMethod: core.AuthHMAC}, "S")

	server := httptest.NewServer(NewHTTPHandler(fixture.receiver, core.ReceiverConfig{MaxBodyBytes: 64, RequestsPerMinute: 100}))
	defer server.Close()

	body := []byte(`{"type":"build"}`)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/hooks/x", bytes.NewReader(body))
	req.Header.Set("X-Signature", security.Sign([]byte("S"), "", body))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var decoded struct {
		Success bool   `json:"success"`
		EventID string `json:"event_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Success || decoded.EventID == "" || decoded.Message != "processed" {
		t.Fatalf("unexpected body: %#v", decoded)
	}

	events, _ := fixture.events.ListEvents(t.Context(), core.WebhookEventFilter{})
	if len(events) != 1 || events[0].SourceIP == "" {
		t.Fatalf("expected source ip to be recorded, got %#v", events)
	}
}

func TestHTTPHandler_RejectsOversizedAndUnknown(t *testing.T) {
	fixture := newReceiverFixture(t, &recordingConsumer{})
	fixture.register(t, core.WebhookEndpoint{ID: "ep-open", Path: "/hooks/open", AuthMethod: core.AuthNone}, "")

	handler := NewHTTPHandler(fixture.receiver, core.ReceiverConfig{MaxBodyBytes: 8})
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "oversized", method: http.MethodPost, path: "/hooks/open", body: `{"payload":"way too long"}`, want: http.StatusRequestEntityTooLarge},
		{name: "unknown path", method: http.MethodPost, path: "/hooks/none", body: `{}`, want: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/hooks/open", want: http.StatusMethodNotAllowed},
		{name: "accepted", method: http.MethodPost, path: "/hooks/open", body: `{}`, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			handler.ServeHTTP(recorder, req)
			if recorder.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, recorder.Code, recorder.Body.String())
			}
		})
	}
}
