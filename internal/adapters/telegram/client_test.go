package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

const testToken = "123456:TEST-token"

func newTestClient(t *testing.T, handler http.HandlerFunc, delays *[]time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newClientFor(server.URL, delays)
}

func newClientFor(baseURL string, delays *[]time.Duration) *Client {
	retrier := NewRetrier(DefaultRetryPolicy(), WithSleep(func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}))
	return NewClient(Config{
		Token:   testToken,
		BaseURL: baseURL,
		Limiter: NewRateLimiter(0, 1),
		Retrier: retrier,
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestGetChatAdministratorsParsesMembers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bot"+testToken+"/getChatAdministrators") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["chat_id"] != float64(-1001) {
			t.Errorf("unexpected chat_id %v", req["chat_id"])
		}
		writeJSON(w, http.StatusOK, `{"ok":true,"result":[
			{"user":{"id":1,"is_bot":false,"first_name":"Owner"},"status":"creator"},
			{"user":{"id":2,"is_bot":false,"first_name":"Editor","username":"editor"},"status":"administrator",
			 "can_post_messages":true,"can_edit_messages":false,"can_delete_messages":true,"can_change_info":false,"can_invite_users":true},
			{"user":{"id":3,"is_bot":true,"first_name":"Bot"},"status":"administrator","can_post_messages":true},
			{"user":{"id":4,"is_bot":false,"first_name":"Reader"},"status":"member"},
			{"status":"administrator"}
		]}`)
	}, nil)

	admins, err := client.GetChatAdministrators(context.Background(), -1001)
	if err != nil {
		t.Fatalf("GetChatAdministrators: %v", err)
	}
	if len(admins) != 3 {
		t.Fatalf("expected 3 admins, got %d", len(admins))
	}
	if admins[0].UserID != 1 || admins[0].Status != domain.MemberStatusCreator || admins[0].Partial {
		t.Fatalf("unexpected creator: %+v", admins[0])
	}
	editor := admins[1]
	want := domain.CapabilitySet{PostMessages: true, DeleteMessages: true, InviteUsers: true}
	if editor.Capabilities != want || editor.Partial || editor.Username != "editor" {
		t.Fatalf("unexpected editor: %+v", editor)
	}
	if !admins[2].Partial || !admins[2].IsBot {
		t.Fatalf("expected partial bot entry, got %+v", admins[2])
	}
}

func TestCallRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var delays []time.Duration
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusInternalServerError, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"ok":true,"result":42}`)
	}, &delays)

	count, err := client.GetChatMemberCount(context.Background(), -1001)
	if err != nil {
		t.Fatalf("GetChatMemberCount: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42, got %d", count)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(delays) != 1 || delays[0] != 500*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func retryCount(t *testing.T, method string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.TelegramRetries.WithLabelValues(method).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSharedRetrierKeepsHooks(t *testing.T) {
	var hookCalls atomic.Int32
	retrier := NewRetrier(DefaultRetryPolicy(),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithRetryHook(func(string, int, time.Duration, error) { hookCalls.Add(1) }),
	)
	failOnce := func() http.HandlerFunc {
		var calls atomic.Int32
		return func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				writeJSON(w, http.StatusBadGateway, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"ok":true,"result":{"id":-1001,"type":"channel"}}`)
		}
	}

	before := retryCount(t, "getChat")
	for i := 0; i < 2; i++ {
		server := httptest.NewServer(failOnce())
		client := NewClient(Config{Token: testToken, BaseURL: server.URL, Limiter: NewRateLimiter(0, 1), Retrier: retrier})
		if _, err := client.GetChat(context.Background(), -1001); err != nil {
			server.Close()
			t.Fatalf("GetChat: %v", err)
		}
		server.Close()
	}

	if hookCalls.Load() != 2 {
		t.Fatalf("ожидали 2 вызова пользовательского хука, получили %d", hookCalls.Load())
	}
	if d := retryCount(t, "getChat") - before; d != 2 {
		t.Fatalf("ожидали +2 к счётчику повторов, получили %v", d)
	}
}

func TestCallDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}, nil)

	_, err := client.GetChat(context.Background(), -1001)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single call, got %d", calls.Load())
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not found classification for %v", err)
	}
}

func TestCallHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var delays []time.Duration
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"ok":true,"result":true}`)
	}, &delays)

	if err := client.DeleteWebhook(context.Background(), false); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if len(delays) != 1 || delays[0] != 3*time.Second {
		t.Fatalf("expected retry_after delay of 3s, got %v", delays)
	}
}

func TestTransportErrorRedactsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newClientFor(baseURL, nil)
	_, err := client.GetMe(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestSendMessageRequestBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ChatID != 7 || req.Text != "hello" || req.ParseMode != "HTML" {
			t.Errorf("unexpected request: %+v", req)
		}
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":11,"date":0,"chat":{"id":7,"type":"private"}}}`)
	}, nil)

	msg, err := client.SendMessage(context.Background(), 7, "hello", SendOptions{ParseMode: "HTML"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 11 {
		t.Fatalf("unexpected message id %d", msg.MessageID)
	}
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "valid", status: http.StatusOK, body: `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot"}}`, want: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"ok":false,"error_code":401,"description":"Unauthorized"}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}, nil)
			if got := client.ValidateToken(context.Background()); got != tt.want {
				t.Fatalf("ValidateToken = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotifierSplitsLongText(t *testing.T) {
	var texts []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		texts = append(texts, req.Text)
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"}}}`)
	}, nil)

	text := strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 2000)
	if err := NewNotifier(client).Notify(context.Background(), 5, text); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(texts) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(texts))
	}
	if texts[0] != strings.Repeat("a", 3000) || texts[1] != strings.Repeat("b", 2000) {
		t.Fatalf("unexpected split")
	}
}

func TestSplitText(t *testing.T) {
	if parts := splitText("  \n ", 10); len(parts) != 0 {
		t.Fatalf("expected no parts, got %v", parts)
	}
	parts := splitText("abcdefghijkl", 5)
	if len(parts) != 3 || parts[0] != "abcde" || parts[2] != "kl" {
		t.Fatalf("unexpected hard split: %v", parts)
	}
	parts = splitText("ab\ncdefg\nh", 6)
	if len(parts) != 3 || parts[0] != "ab" || parts[1] != "cdefg" || parts[2] != "h" {
		t.Fatalf("unexpected line split: %v", parts)
	}
}
