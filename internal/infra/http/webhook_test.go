package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
)

type recordingQueue struct {
	jobs []domain.SyncJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job domain.SyncJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Receive(context.Context) (domain.SyncJob, domain.SyncAckFunc, error) {
	return domain.SyncJob{}, nil, errors.New("not implemented")
}

const promotedUpdate = `{"update_id":10,"chat_member":{"chat":{"id":-1001,"type":"channel"},"from":{"id":1},"date":1,
"old_chat_member":{"user":{"id":5},"status":"member"},
"new_chat_member":{"user":{"id":5},"status":"administrator","can_post_messages":true}}}`

const memberUpdate = `{"update_id":11,"chat_member":{"chat":{"id":-1001,"type":"channel"},"from":{"id":1},"date":1,
"old_chat_member":{"user":{"id":6},"status":"left"},
"new_chat_member":{"user":{"id":6},"status":"member"}}}`

func TestMembershipWebhook(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		secret   string
		queueErr error
		wantCode int
		wantJobs int
	}{
		{"promotion", promotedUpdate, "s3cret", nil, http.StatusOK, 1},
		{"plain member", memberUpdate, "s3cret", nil, http.StatusOK, 0},
		{"message", `{"update_id":12,"message":{"message_id":1,"chat":{"id":1,"type":"private"},"date":1}}`, "s3cret", nil, http.StatusOK, 0},
		{"wrong secret", promotedUpdate, "nope", nil, http.StatusUnauthorized, 0},
		{"bad json", `{`, "s3cret", nil, http.StatusBadRequest, 0},
		{"queue down", promotedUpdate, "s3cret", errors.New("redis down"), http.StatusServiceUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &recordingQueue{err: tc.queueErr}
			srv := NewServer(zerolog.Nop())
			srv.MountWebhook("/bot/webhook", NewMembershipWebhook(q, "s3cret", zerolog.Nop()))

			req := httptest.NewRequest(http.MethodPost, "/bot/webhook", strings.NewReader(tc.body))
			req.Header.Set(WebhookSecretHeader, tc.secret)
			rec := httptest.NewRecorder()
			srv.Router.ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("ожидали %d, получили %d", tc.wantCode, rec.Code)
			}
			if len(q.jobs) != tc.wantJobs {
				t.Fatalf("ожидали %d задач, получили %d", tc.wantJobs, len(q.jobs))
			}
			if tc.wantJobs == 1 {
				job := q.jobs[0]
				if job.ChannelID != -1001 || !job.Force || job.Cause != domain.SyncCauseMembership {
					t.Fatalf("неожиданная задача: %+v", job)
				}
			}
		})
	}
}
