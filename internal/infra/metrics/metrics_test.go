package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveNetworkRequestStatus(t *testing.T) {
	before := counterValue(t, NetworkRequestTotal.WithLabelValues("telegram", "getMe", "api.telegram.org", "error"))
	ObserveNetworkRequest("telegram", "getMe", "api.telegram.org", time.Now(), errors.New("boom"))
	after := counterValue(t, NetworkRequestTotal.WithLabelValues("telegram", "getMe", "api.telegram.org", "error"))
	if after-before != 1 {
		t.Fatalf("ожидали +1 ошибочный запрос, получили %v", after-before)
	}

	ObserveNetworkRequest("", "", "", time.Now(), nil)
	if got := counterValue(t, NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "success")); got < 1 {
		t.Fatalf("ожидали подстановку unknown для пустых меток")
	}
}

func TestPermissionSyncCounters(t *testing.T) {
	removed := counterValue(t, PermissionsRemoved)
	userErrors := counterValue(t, PermissionUserErrors)
	jobs := counterValue(t, ResyncJobsEnqueued)

	ObservePermissionSync("partial", time.Now(), 2, 1)
	AddResyncJobs(3)
	AddResyncJobs(0)

	if d := counterValue(t, PermissionsRemoved) - removed; d != 2 {
		t.Fatalf("ожидали +2 удалённые записи, получили %v", d)
	}
	if d := counterValue(t, PermissionUserErrors) - userErrors; d != 1 {
		t.Fatalf("ожидали +1 ошибку пользователя, получили %v", d)
	}
	if d := counterValue(t, ResyncJobsEnqueued) - jobs; d != 3 {
		t.Fatalf("ожидали +3 задачи, получили %v", d)
	}
}

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	ObserveRateLimitWait(10 * time.Millisecond)
	IncTelegramRetry("getChatAdministrators")
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("ожидали зарегистрированные метрики")
	}
}
