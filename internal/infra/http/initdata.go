package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// InitDataHeader содержит имя заголовка, в котором WebApp передаёт initData.
const InitDataHeader = "X-Telegram-Init-Data"

var (
	errInitDataMissing = errors.New("init_data отсутствует")
	errInitDataInvalid = errors.New("подпись недействительна")
	errInitDataExpired = errors.New("init_data устарела")
	errInitDataNoUser  = errors.New("в init_data нет пользователя")
)

type ctxKey int

const userIDKey ctxKey = iota

// WebAppAuthMiddleware проверяет initData по токену бота и кладёт id пользователя в контекст.
// maxAge ограничивает возраст auth_date, ноль отключает проверку.
func WebAppAuthMiddleware(botToken string, maxAge time.Duration) func(http.Handler) http.Handler {
	secret := webAppSecret(botToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get(InitDataHeader)
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			userID, err := validateInitData(initData, secret, maxAge, time.Now())
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID кладёт id пользователя Telegram в контекст.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID возвращает id пользователя, проверенный middleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

func webAppSecret(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

func validateInitData(initData string, secret []byte, maxAge time.Duration, now time.Time) (int64, error) {
	if initData == "" {
		return 0, errInitDataMissing
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, errInitDataInvalid
	}
	hash := values.Get("hash")
	if hash == "" {
		return 0, errInitDataInvalid
	}
	expected, err := hex.DecodeString(hash)
	if err != nil {
		return 0, errInitDataInvalid
	}
	if !hmac.Equal(signInitData(values, secret), expected) {
		return 0, errInitDataInvalid
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(authDate, 0)) > maxAge {
			return 0, errInitDataExpired
		}
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return 0, errInitDataNoUser
	}
	return user.ID, nil
}

// signInitData считает подпись строки проверки: пары key=value без hash, по алфавиту, через \n.
func signInitData(values url.Values, secret []byte) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
