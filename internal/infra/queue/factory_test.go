package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestOpenBackends(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"redis", Options{Backend: BackendRedis, Key: "jobs", Redis: client}, false},
		{"default is redis", Options{Key: "jobs", Redis: client}, false},
		{"redis without client", Options{Backend: BackendRedis, Key: "jobs"}, true},
		{"rabbit without url", Options{Backend: BackendRabbitMQ, Key: "jobs"}, true},
		{"unknown", Options{Backend: "kafka", Key: "jobs"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, closeFn, err := Open(tc.opts)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ожидали ошибку")
				}
				return
			}
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if _, ok := q.(*RedisSyncQueue); !ok {
				t.Fatalf("ожидали RedisSyncQueue, получили %T", q)
			}
			if err := closeFn(); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}
}
