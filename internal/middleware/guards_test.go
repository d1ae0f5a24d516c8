package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fitstudio/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// echoRouter returns the body and raw query each handler finally sees.
func echoRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	h := func(c *gin.Context) {
		raw, _ := io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"body": string(raw), "query": c.Request.URL.RawQuery})
	}
	r.POST("/echo", append(mw, h)...)
	r.GET("/echo", append(mw, h)...)
	return r
}

type echoed struct {
	Body  string `json:"body"`
	Query string `json:"query"`
}

func send(t *testing.T, r http.Handler, method, target, body string) (*httptest.ResponseRecorder, echoed) {
	t.Helper()
	w := httptest.NewRecorder()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var out echoed
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func decodeEchoBody(t *testing.T, e echoed) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(e.Body), &m))
	return m
}

func TestOperatorGuard(t *testing.T) {
	r := echoRouter(OperatorGuard(nil))

	rejected := []struct {
		name, method, target, body string
	}{
		{"top level body key", http.MethodPost, "/echo", `{"email":{"$ne":null},"password":"x"}`},
		{"nested in array", http.MethodPost, "/echo", `{"items":[{"a":{"$gt":1}}]}`},
		{"where clause", http.MethodPost, "/echo", `{"$where":"sleep(1000)"}`},
		{"regex operator", http.MethodPost, "/echo", `{"email":{"$regex":".*"}}`},
		{"query bracket", http.MethodGet, "/echo?email[$ne]=x", ""},
		{"query plain", http.MethodGet, "/echo?$where=1", ""},
		{"too deep", http.MethodPost, "/echo", strings.Repeat(`{"a":`, 12) + `1` + strings.Repeat(`}`, 12)},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := send(t, r, tc.method, tc.target, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
		})
	}

	t.Run("dollar in value is fine", func(t *testing.T) {
		w, out := send(t, r, http.MethodPost, "/echo", `{"note":"costs $5"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"note":"costs $5"}`, out.Body)
	})

	t.Run("nine levels pass", func(t *testing.T) {
		body := strings.Repeat(`{"a":`, 9) + `1` + strings.Repeat(`}`, 9)
		w, _ := send(t, r, http.MethodPost, "/echo", body)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestOperatorGuard_BodyTooLarge(t *testing.T) {
	r := echoRouter(OperatorGuard(nil))
	body := `{"a":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	w, _ := send(t, r, http.MethodPost, "/echo", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripForbiddenFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := echoRouter(StripForbiddenFields(zap.New(core)))

	w, out := send(t, r, http.MethodPost, "/echo", `{
		"firstName":"Ann",
		"role":"admin",
		"IS_EMAIL_VERIFIED":true,
		"token-version":9,
		"profile":{"lastName":"Lee","passwordHash":"x","deeper":{"lockoutUntil":null}},
		"list":[{"activeSubscription":{}}]
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeEchoBody(t, out)
	assert.Equal(t, "Ann", body["firstName"])
	assert.NotContains(t, body, "role")
	assert.NotContains(t, body, "IS_EMAIL_VERIFIED")
	assert.NotContains(t, body, "token-version")
	profile := body["profile"].(map[string]interface{})
	assert.Equal(t, "Lee", profile["lastName"])
	assert.NotContains(t, profile, "passwordHash")
	assert.NotContains(t, profile["deeper"].(map[string]interface{}), "lockoutUntil")
	assert.Empty(t, body["list"].([]interface{})[0].(map[string]interface{}))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "stripped privileged fields from request", logs.All()[0].Message)
}

func TestStripForbiddenFields_Query(t *testing.T) {
	r := echoRouter(StripForbiddenFields(nil))

	w, out := send(t, r, http.MethodGet, "/echo?role=admin&page=2&_id=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "page=2", out.Query)
}

func TestStripForbiddenFields_GetBodyUntouched(t *testing.T) {
	r := echoRouter(StripForbiddenFields(nil))
	w, out := send(t, r, http.MethodGet, "/echo", `{"role":"admin"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"admin"}`, out.Body)
}

func TestAllowFields(t *testing.T) {
	t.Run("strip drops unknown keys", func(t *testing.T) {
		r := echoRouter(AllowFields(Strip, "email", "password"))
		w, out := send(t, r, http.MethodPost, "/echo", `{"email":"a@b.c","password":"p","extra":1}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"email":"a@b.c","password":"p"}`, out.Body)
	})

	t.Run("strict rejects and names the fields", func(t *testing.T) {
		r := echoRouter(AllowFields(Strict, "firstName", "lastName", "phone"))
		w, _ := send(t, r, http.MethodPost, "/echo", `{"firstName":"A","nickname":"x","avatar":"y"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp struct {
			Error struct {
				Code    string `json:"code"`
				Details struct {
					Fields []string `json:"fields"`
				} `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "DISALLOWED_FIELD", resp.Error.Code)
		assert.Equal(t, []string{"avatar", "nickname"}, resp.Error.Details.Fields)
	})

	t.Run("strict allows whitelisted only", func(t *testing.T) {
		r := echoRouter(AllowFields(Strict, "firstName"))
		w, _ := send(t, r, http.MethodPost, "/echo", `{"firstName":"A"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// The chain as mounted on /api/v1: a blacklisted field never reaches the
// handler, even when it is whitelisted by mistake.
func TestGuardChain(t *testing.T) {
	r := echoRouter(OperatorGuard(nil), StripForbiddenFields(nil), AllowFields(Strip, "firstName", "role"))
	w, out := send(t, r, http.MethodPost, "/echo", `{"firstName":"A","role":"admin"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"firstName":"A"}`, out.Body)
}

func TestValidateIDParam(t *testing.T) {
	r := gin.New()
	r.GET("/users/:id", ValidateIDParam("id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"abc", "65a1f0c2e4b0a1b2c3d4e5fz", "65A1F0C2E4B0A1B2C3D4E5F6", "1"} {
		w := doGet(r, "/users/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		assert.Equal(t, "INVALID_ID", errorCode(t, w))
	}
	assert.Equal(t, http.StatusOK, doGet(r, "/users/"+testUserID, "").Code)
}

func TestValidateSlugParam(t *testing.T) {
	r := gin.New()
	r.GET("/programs/:slug", ValidateSlugParam("slug"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doGet(r, "/programs/back-program", "").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(r, "/programs/Back_Program", "").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(r, "/programs/-x", "").Code)
}

type stubLimiter struct{ allowed int }

func (s *stubLimiter) Allow(_ context.Context, _ ratelimit.Endpoint, _ string) (ratelimit.Decision, error) {
	if s.allowed > 0 {
		s.allowed--
		return ratelimit.Decision{Allowed: true}, nil
	}
	return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

func TestRateLimitByIP(t *testing.T) {
	guard := ratelimit.NewGuard(&stubLimiter{allowed: 1}, nil)
	r := gin.New()
	r.POST("/login", RateLimitByIP(guard, ratelimit.Login), func(c *gin.Context) { c.Status(http.StatusOK) })

	w, _ := send(t, r, http.MethodPost, "/login", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
}

func TestRequestLogger_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := doGet(r, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "kaboom")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestID_Propagates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}, false))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInternalToken(t *testing.T) {
	r := gin.New()
	r.GET("/metrics", InternalToken("scrape-secret", nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/metrics", "").Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/metrics", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, doGet(r, "/metrics", "Bearer scrape-secret").Code)
}
