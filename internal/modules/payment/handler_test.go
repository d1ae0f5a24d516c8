package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/paymentprovider"
	"fitstudio/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) ApplyEvent(ctx context.Context, evt *paymentprovider.Event) (user.Outcome, error) {
	args := m.Called(ctx, evt)
	return args.Get(0).(user.Outcome), args.Error(1)
}

func newRouter(applier EventApplier, guard *ratelimit.Guard) *gin.Engine {
	consumer := NewConsumer(testSecret, applier, nil).WithClock(func() time.Time { return testNow })
	r := gin.New()
	NewHandler(consumer, guard).RegisterRoutes(r)
	return r
}

func deliver(r http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(paymentprovider.SignatureHeader, signature)
	}
	req.RemoteAddr = "203.0.113.7:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func eventBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": paymentprovider.EventInvoicePaymentSucceeded,
		"data": map[string]any{"customerId": "cus_1", "subscriptionId": "sub_1"},
	})
	require.NoError(t, err)
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestWebhook_AppliesSignedEvent(t *testing.T) {
	applier := &mockApplier{}
	applier.On("ApplyEvent", mock.Anything, mock.MatchedBy(func(evt *paymentprovider.Event) bool {
		return evt.ID == "evt_1" && evt.Data.CustomerID == "cus_1"
	})).Return(user.OutcomeApplied, nil).Once()

	body := eventBody(t)
	w := deliver(newRouter(applier, nil), body, paymentprovider.Sign(testSecret, testNow, body))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data WebhookResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "evt_1", resp.Data.EventID)
	assert.Equal(t, user.OutcomeApplied, resp.Data.Outcome)
	applier.AssertExpectations(t)
}

func TestWebhook_RejectsBadSignatures(t *testing.T) {
	body := eventBody(t)

	tests := []struct {
		name      string
		body      []byte
		signature string
	}{
		{"missing header", body, ""},
		{"wrong secret", body, paymentprovider.Sign("other", testNow, body)},
		{"tampered body", []byte(strings.Replace(string(body), "cus_1", "cus_2", 1)), paymentprovider.Sign(testSecret, testNow, body)},
		{"stale timestamp", body, paymentprovider.Sign(testSecret, testNow.Add(-10*time.Minute), body)},
		{"garbage header", body, "v1=zz,t=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &mockApplier{}
			w := deliver(newRouter(applier, nil), tt.body, tt.signature)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
			applier.AssertNotCalled(t, "ApplyEvent", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhook_MalformedEvent(t *testing.T) {
	applier := &mockApplier{}
	body := []byte(`{"type":"invoice.payment_succeeded"}`)
	w := deliver(newRouter(applier, nil), body, paymentprovider.Sign(testSecret, testNow, body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	applier.AssertNotCalled(t, "ApplyEvent", mock.Anything, mock.Anything)
}

func TestWebhook_StoreFailureAsksForRetry(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"store unavailable", user.ErrStoreUnavailable, http.StatusBadGateway},
		{"unexpected", errors.New("constraint violated"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &mockApplier{}
			applier.On("ApplyEvent", mock.Anything, mock.Anything).Return(user.Outcome(""), tt.err).Once()

			body := eventBody(t)
			w := deliver(newRouter(applier, nil), body, paymentprovider.Sign(testSecret, testNow, body))
			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "constraint")
		})
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	applier := &mockApplier{}
	body := bytes.Repeat([]byte("a"), MaxWebhookBytes+1)
	w := deliver(newRouter(applier, nil), body, paymentprovider.Sign(testSecret, testNow, body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	applier.AssertNotCalled(t, "ApplyEvent", mock.Anything, mock.Anything)
}

func TestWebhook_RateLimitedBySourceIP(t *testing.T) {
	limiter := ratelimit.NewMemory(map[ratelimit.Endpoint]ratelimit.Policy{
		ratelimit.PaymentWebhook: {Capacity: 2, Refill: time.Hour},
	})
	t.Cleanup(func() { _ = limiter.Close() })

	applier := &mockApplier{}
	applier.On("ApplyEvent", mock.Anything, mock.Anything).Return(user.OutcomeDuplicate, nil)
	r := newRouter(applier, ratelimit.NewGuard(limiter, nil))

	body := eventBody(t)
	sig := paymentprovider.Sign(testSecret, testNow, body)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, deliver(r, body, sig).Code)
	}
	w := deliver(r, body, sig)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
