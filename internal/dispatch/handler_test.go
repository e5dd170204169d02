package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/multimail/internal/email"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sent struct {
	creds email.Credentials
	msg   *email.Email
}

// fakeProvider records every send and fails for the listed recipients.
type fakeProvider struct {
	mu     sync.Mutex
	calls  []sent
	failTo map[string]bool
}

func (f *fakeProvider) Send(ctx context.Context, creds email.Credentials, msg *email.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sent{creds: creds, msg: msg})
	if ctx.Done() != nil {
		return errors.New("send context must not be cancellable")
	}
	if f.failTo[msg.To[0]] {
		return errors.New("535 5.7.8 Username and Password not accepted")
	}
	return nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) sends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

func validBody() map[string]any {
	return map[string]any{
		"recipient":   "alice@example.com",
		"subject":     "Launch",
		"message":     "<p>Hello</p>",
		"emailId":     "me@example.com",
		"appPassword": "abcd efgh ijkl mnop",
	}
}

func do(t *testing.T, r http.Handler, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, SendPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func encode(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestSendEmail_Success(t *testing.T) {
	p := &fakeProvider{}
	r := NewRouter(p)

	rec := do(t, r, http.MethodPost, encode(t, validBody()))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Email sent to alice@example.com", resp.Message)

	calls := p.sends()
	require.Len(t, calls, 1)
	assert.Equal(t, email.Credentials{EmailID: "me@example.com", AppPassword: "abcd efgh ijkl mnop"}, calls[0].creds)
	assert.Equal(t, "me@example.com", calls[0].msg.From)
	assert.Equal(t, []string{"alice@example.com"}, calls[0].msg.To)
	assert.Equal(t, "Launch", calls[0].msg.Subject)
	assert.Equal(t, "<p>Hello</p>", calls[0].msg.HtmlBody)
}

func TestSendEmail_MissingFields(t *testing.T) {
	for _, field := range []string{"recipient", "subject", "message", "emailId", "appPassword"} {
		t.Run("absent "+field, func(t *testing.T) {
			p := &fakeProvider{}
			body := validBody()
			delete(body, field)

			rec := do(t, NewRouter(p), http.MethodPost, encode(t, body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrMissingFields, decodeError(t, rec))
			assert.Empty(t, p.sends())
		})
		t.Run("empty "+field, func(t *testing.T) {
			p := &fakeProvider{}
			body := validBody()
			body[field] = ""

			rec := do(t, NewRouter(p), http.MethodPost, encode(t, body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrMissingFields, decodeError(t, rec))
			assert.Empty(t, p.sends())
		})
	}
}

func TestSendEmail_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "recipient=a@example.com"},
		{"truncated", `{"recipient":"a@example.com"`},
		{"null", "null"},
		{"wrong type", `{"recipient":5,"subject":"s","message":"m","emailId":"e","appPassword":"p"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{}
			rec := do(t, NewRouter(p), http.MethodPost, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrMissingFields, decodeError(t, rec))
			assert.Empty(t, p.sends())
		})
	}
}

func TestSendEmail_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			p := &fakeProvider{}
			rec := do(t, NewRouter(p), method, encode(t, validBody()))

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			assert.Equal(t, ErrMethodNotAllowed, decodeError(t, rec))
			assert.Empty(t, p.sends())
		})
	}
}

func TestSendEmail_RelayFailure(t *testing.T) {
	p := &fakeProvider{failTo: map[string]bool{"c@x.com": true}}
	r := NewRouter(p)

	body := validBody()
	body["recipient"] = "c@x.com"
	rec := do(t, r, http.MethodPost, encode(t, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error sending email to c@x.com", decodeError(t, rec))
	assert.NotContains(t, rec.Body.String(), "535")
	assert.Len(t, p.sends(), 1)

	// A sibling request is unaffected.
	body["recipient"] = "d@x.com"
	rec = do(t, r, http.MethodPost, encode(t, body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendEmail_NotIdempotent(t *testing.T) {
	p := &fakeProvider{}
	r := NewRouter(p)
	body := encode(t, validBody())

	for i := 0; i < 2; i++ {
		rec := do(t, r, http.MethodPost, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, p.sends(), 2)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := NewRouter(&fakeProvider{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	do(t, r, http.MethodPost, encode(t, validBody()))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `multimail_dispatch_success_total{provider="fake"}`)
}
