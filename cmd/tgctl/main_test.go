package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBotAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"tgeasy","username":"tgeasy_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getChatAdministrators"):
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"user":{"id":1},"status":"creator"}]}`))
		case strings.HasSuffix(r.URL.Path, "/deleteWebhook"):
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommands(t *testing.T) {
	api := newBotAPI(t)
	cases := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"me", []string{"me"}, `"username": "tgeasy_bot"`, false},
		{"admins", []string{"admins", "-100"}, `"UserID": 1`, false},
		{"webhook delete", []string{"webhook-delete", "-drop"}, "ok", false},
		{"platform error", []string{"chat", "-100"}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			args := append([]string{"-token", "1:x", "-base-url", api.URL}, tc.args...)
			err := run(context.Background(), args, &out)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ожидали ошибку")
				}
				return
			}
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !strings.Contains(out.String(), tc.want) {
				t.Fatalf("ожидали %q в выводе, получили %s", tc.want, out.String())
			}
		})
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := [][]string{
		{"-token", "1:x"},
		{"-token", "1:x", "unknown"},
		{"-token", "1:x", "member", "-100"},
		{"-token", "1:x", "count", "abc"},
		{"-token", "1:x", "send", "-100"},
	}
	for _, args := range cases {
		if err := run(context.Background(), args, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Fatalf("%v: ожидали errUsage, получили %v", args, err)
		}
	}
}
