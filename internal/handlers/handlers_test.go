package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/palm-pay/internal/auth"
	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/matcher"
	"github.com/example/palm-pay/internal/store"
	"github.com/example/palm-pay/internal/usecase"
	"github.com/example/palm-pay/internal/vault"
)

const testJWTSecret = "test-secret"

// memCache is an in-process usecase.Cache.
type memCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	return nil
}

func (m *memCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

// pixelExtractor uses the colour of the first pixel as the feature vector;
// a black pixel means no palm.
func pixelExtractor(_ context.Context, img *features.Image) (features.FeatureVector, error) {
	r, g, b := img.Pix[0], img.Pix[1], img.Pix[2]
	if r == 0 && g == 0 && b == 0 {
		return features.FeatureVector{}, features.ErrNoBiometricDetected
	}
	return features.NewFeatureVector([]float64{float64(r), float64(g), float64(b)}), nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestRouterWithLimit(t, 0)
}

func newTestRouterWithLimit(t *testing.T, maxImagePixels int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := vault.New()
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	templates := store.New()
	extractor := features.ExtractorFunc(pixelExtractor)

	enroll := usecase.NewEnrollmentService(extractor, templates, v, zap.NewNop())
	authn := usecase.NewAuthenticationService(usecase.AuthenticationDeps{
		Extractor:  extractor,
		Store:      templates,
		Vault:      v,
		Matcher:    matcher.New(matcher.Cosine{}, matcher.DefaultCosineThreshold),
		Cache:      &memCache{values: make(map[string]string)},
		MerchantID: "MERCHANT123456",
	}, zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, enroll, authn, auth.JWTMiddleware(testJWTSecret, "", zap.NewNop()), maxImagePixels)
	return router
}

func TestEnrollRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := buildMultipartBody(t, map[string]string{"user_id": "U1", "credential": "alice@bank"},
		"image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	resp := doRequest(t, router, http.MethodPost, "/enroll", body, contentType, true)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestAuthenticateRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := buildMultipartBody(t, nil, "text/plain", []byte("hello"))
	resp := doRequest(t, router, http.MethodPost, "/authenticate", body, contentType, true)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestRejectsUndecodableImage(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := buildMultipartBody(t, nil, "image/png", []byte("not a png"))
	resp := doRequest(t, router, http.MethodPost, "/authenticate", body, contentType, true)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestRejectsImageAboveDimensionLimit(t *testing.T) {
	router := newTestRouterWithLimit(t, 15)

	body, contentType := buildMultipartBody(t, nil, "image/png", encodePNG(t, color.RGBA{R: 200, A: 255}))
	resp := doRequest(t, router, http.MethodPost, "/authenticate", body, contentType, true)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	resp := doRequest(t, router, http.MethodGet, "/registry", nil, "", false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}

	resp = doRequest(t, router, http.MethodGet, "/health", nil, "", false)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected health to be public, got %d", resp.Code)
	}
}

func TestEnrollAuthenticatePayFlow(t *testing.T) {
	router := newTestRouter(t)
	red := color.RGBA{R: 200, G: 10, B: 10, A: 255}

	enrolled := enrollColor(t, router, "U1", "alice@bank", red, http.StatusCreated)
	templateID, _ := enrolled["template_id"].(string)
	if templateID == "" {
		t.Fatalf("expected template_id in %v", enrolled)
	}

	again := enrollColor(t, router, "U1", "alice@bank", red, http.StatusOK)
	if again["template_id"] != templateID || again["replaced"] != true {
		t.Fatalf("expected idempotent re-enrollment, got %v", again)
	}

	body, contentType := buildMultipartBody(t, nil, "image/png", encodePNG(t, red))
	resp := doRequest(t, router, http.MethodPost, "/authenticate", body, contentType, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("authenticate: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	matched := decode(t, resp)
	if matched["template_id"] != templateID {
		t.Fatalf("expected template %s, got %v", templateID, matched["template_id"])
	}
	attemptID, _ := matched["attempt_id"].(string)

	payload := `{"template_id":"` + templateID + `","amount":"12.50","payee":"merchant@bank"}`
	resp = doRequest(t, router, http.MethodPost, "/payments", strings.NewReader(payload), "application/json", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("payments: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "alice@bank") {
		t.Fatal("payment response leaked the credential")
	}
	paid := decode(t, resp)
	txn, _ := paid["transaction"].(map[string]interface{})
	if id, _ := txn["transaction_id"].(string); !strings.HasPrefix(id, "TXN") {
		t.Fatalf("unexpected transaction id %v", txn["transaction_id"])
	}
	if paid["amount"] != "12.50" || paid["terminal"] != "POS-1" {
		t.Fatalf("unexpected payment response %v", paid)
	}

	resp = doRequest(t, router, http.MethodGet, "/attempts/"+attemptID, nil, "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("attempts: expected 200, got %d", resp.Code)
	}

	resp = doRequest(t, router, http.MethodGet, "/registry", nil, "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("registry: expected 200, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "alice@bank") || strings.Contains(resp.Body.String(), templateID) {
		t.Fatalf("registry exposed sensitive data: %s", resp.Body.String())
	}
	if decode(t, resp)["count"] != float64(1) {
		t.Fatalf("expected one registry entry: %s", resp.Body.String())
	}
}

func TestAuthenticateFailures(t *testing.T) {
	router := newTestRouter(t)
	enrollColor(t, router, "U1", "alice@bank", color.RGBA{R: 200, G: 10, B: 10, A: 255}, http.StatusCreated)

	tests := []struct {
		name   string
		colour color.RGBA
		status int
	}{
		{name: "different palm", colour: color.RGBA{R: 10, G: 10, B: 200, A: 255}, status: http.StatusUnauthorized},
		{name: "no palm", colour: color.RGBA{A: 255}, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := buildMultipartBody(t, nil, "image/png", encodePNG(t, tc.colour))
			resp := doRequest(t, router, http.MethodPost, "/authenticate", body, contentType, true)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestPaymentErrors(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name    string
		payload string
		status  int
	}{
		{name: "missing fields", payload: `{"amount":"1.00"}`, status: http.StatusBadRequest},
		{name: "zero amount", payload: `{"template_id":"abc","amount":"0","payee":"m@bank"}`, status: http.StatusBadRequest},
		{name: "malformed amount", payload: `{"template_id":"abc","amount":"1.234","payee":"m@bank"}`, status: http.StatusBadRequest},
		{name: "unknown template", payload: `{"template_id":"abc","amount":"1.00","payee":"m@bank"}`, status: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, router, http.MethodPost, "/payments", strings.NewReader(tc.payload), "application/json", true)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestAttemptNotFoundAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	resp := doRequest(t, router, http.MethodGet, "/attempts/missing", nil, "", true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	resp = doRequest(t, router, http.MethodGet, "/metrics", nil, "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func enrollColor(t *testing.T, router *gin.Engine, userID, credential string, c color.RGBA, wantStatus int) map[string]interface{} {
	t.Helper()
	body, contentType := buildMultipartBody(t, map[string]string{"user_id": userID, "credential": credential},
		"image/png", encodePNG(t, c))
	resp := doRequest(t, router, http.MethodPost, "/enroll", body, contentType, true)
	if resp.Code != wantStatus {
		t.Fatalf("enroll: expected %d, got %d: %s", wantStatus, resp.Code, resp.Body.String())
	}
	return decode(t, resp)
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body io.Reader, contentType string, withToken bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if withToken {
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "POS-1"))
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func encodePNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, fields map[string]string, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
