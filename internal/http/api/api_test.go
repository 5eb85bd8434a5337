package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/keyvault"
	"github.com/IshanKhanpara/tokenguard1/internal/ledger"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"github.com/IshanKhanpara/tokenguard1/internal/proxy"
	"github.com/IshanKhanpara/tokenguard1/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testInternalToken = "test-internal-token"
	testMasterKey     = "test-master-key"
)

type testEnv struct {
	engine *gin.Engine
	db     *gorm.DB
	vault  *keyvault.Vault
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.PlanLimit{},
		&models.MonthlyUsage{},
		&models.UsageLog{},
		&models.APIKey{},
		&models.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	vault, err := keyvault.New(testMasterKey)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	quota := ledger.New(conn, nil)
	orchestrator := proxy.New(conn, quota, vault, nil,
		proxy.WithTargetValidator(func(string) error { return nil }))

	engine := gin.New()
	Register(engine, Deps{
		DB:            conn,
		Ledger:        quota,
		Vault:         vault,
		Orchestrator:  orchestrator,
		JWTSecret:     testJWTSecret,
		InternalToken: testInternalToken,
	})
	return &testEnv{engine: engine, db: conn, vault: vault}
}

func (env *testEnv) seedUser(t *testing.T, plan string, maxTokens int64, maxKeys int) uint64 {
	t.Helper()
	user := models.User{Email: fmt.Sprintf("%s@example.com", uuid.NewString()), Active: true}
	if err := env.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	sub := models.Subscription{UserID: user.ID, Plan: plan, Status: models.SubscriptionActive}
	if err := env.db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	var existing models.PlanLimit
	if err := env.db.Where("plan = ?", plan).Take(&existing).Error; err != nil {
		limit := models.PlanLimit{Plan: plan, MaxTokensPerMonth: maxTokens, MaxAPIKeys: maxKeys}
		if err := env.db.Create(&limit).Error; err != nil {
			t.Fatalf("seed plan limit: %v", err)
		}
	}
	return user.ID
}

func (env *testEnv) token(t *testing.T, userID uint64) string {
	t.Helper()
	token, err := security.IssueUserToken(testJWTSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (env *testEnv) request(t *testing.T, method, path, bearer, internalToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if internalToken != "" {
		req.Header.Set("X-Internal-Token", internalToken)
	}
	recorder := httptest.NewRecorder()
	env.engine.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.request(t, http.MethodGet, "/healthz", "", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/proxy"},
		{http.MethodPost, "/v1/keys"},
		{http.MethodGet, "/v1/keys"},
		{http.MethodGet, "/v1/usage/summary"},
	}
	for _, p := range paths {
		recorder := env.request(t, p.method, p.path, "", "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: status = %d, want 401", p.method, p.path, recorder.Code)
		}
	}

	// Garbage token is rejected the same way.
	recorder := env.request(t, http.MethodGet, "/v1/keys", "not-a-jwt", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", recorder.Code)
	}
}

func TestInternalTokenGuard(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedUser(t, models.PlanFree, 100_000, 1)

	recorder := env.request(t, http.MethodPost, "/v1/internal/usage/check", "", "",
		map[string]any{"userId": userID, "tokensToUse": 10})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("missing internal token status = %d", recorder.Code)
	}

	recorder = env.request(t, http.MethodPost, "/v1/internal/usage/check", "", "wrong",
		map[string]any{"userId": userID, "tokensToUse": 10})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong internal token status = %d", recorder.Code)
	}

	recorder = env.request(t, http.MethodPost, "/v1/internal/usage/check", "", testInternalToken,
		map[string]any{"userId": userID, "tokensToUse": 10})
	if recorder.Code != http.StatusOK {
		t.Fatalf("valid internal token status = %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["allowed"] != true {
		t.Fatalf("allowed = %v", body["allowed"])
	}
}

func TestUsageRecordAndSummary(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedUser(t, models.PlanFree, 100_000, 1)

	recorder := env.request(t, http.MethodPost, "/v1/internal/usage/record", "", testInternalToken,
		map[string]any{"userId": userID, "tokensUsed": 5_000, "costUsd": 0.3, "model": "gpt-4"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("record status = %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}

	recorder = env.request(t, http.MethodGet, "/v1/usage/summary", env.token(t, userID), "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("summary status = %d body %s", recorder.Code, recorder.Body.String())
	}
	body = decodeBody(t, recorder)
	if body["totalTokens"].(float64) != 5_000 {
		t.Fatalf("totalTokens = %v", body["totalTokens"])
	}
	if body["limit"].(float64) != 100_000 {
		t.Fatalf("limit = %v", body["limit"])
	}
}

func TestUsageRecordBlocked(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedUser(t, models.PlanFree, 100_000, 1)
	usage := models.MonthlyUsage{UserID: userID, MonthYear: ledger.MonthKey(time.Now()), TotalTokens: 100_000}
	if err := env.db.Create(&usage).Error; err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	recorder := env.request(t, http.MethodPost, "/v1/internal/usage/record", "", testInternalToken,
		map[string]any{"userId": userID, "tokensUsed": 1, "costUsd": 0.0})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["blocked"] != true || body["success"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestKeysTaggedUnion(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedUser(t, models.PlanFree, 100_000, 1)
	bearer := env.token(t, userID)

	// Unknown action.
	recorder := env.request(t, http.MethodPost, "/v1/keys", bearer, "",
		map[string]any{"action": "rotate"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d", recorder.Code)
	}

	// Encrypt.
	recorder = env.request(t, http.MethodPost, "/v1/keys", bearer, "",
		map[string]any{"action": "encrypt", "name": "primary", "apiKey": "sk-live-abcd9876", "provider": "openai"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("encrypt status = %d body %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody(t, recorder)
	if created["success"] != true {
		t.Fatalf("success = %v", created["success"])
	}
	createdKey, ok := created["key"].(map[string]any)
	if !ok {
		t.Fatalf("key envelope missing: %v", created)
	}
	keyID := createdKey["id"].(string)
	if createdKey["key_hint"] != "9876" {
		t.Fatalf("key_hint = %v", createdKey["key_hint"])
	}
	if createdKey["provider"] != "openai" || createdKey["name"] != "primary" {
		t.Fatalf("key envelope = %v", createdKey)
	}

	// Plan cap: free allows one key.
	recorder = env.request(t, http.MethodPost, "/v1/keys", bearer, "",
		map[string]any{"action": "encrypt", "name": "second", "apiKey": "sk-live-zzzz1111"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("cap status = %d", recorder.Code)
	}

	// List shows the hint, never the ciphertext or plaintext.
	recorder = env.request(t, http.MethodGet, "/v1/keys", bearer, "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list status = %d", recorder.Code)
	}
	if bytes.Contains(recorder.Body.Bytes(), []byte("sk-live-abcd9876")) {
		t.Fatal("list leaked the plaintext key")
	}

	// Decrypt round-trips.
	recorder = env.request(t, http.MethodPost, "/v1/keys", bearer, "",
		map[string]any{"action": "decrypt", "keyId": keyID})
	if recorder.Code != http.StatusOK {
		t.Fatalf("decrypt status = %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["apiKey"] != "sk-live-abcd9876" {
		t.Fatalf("decrypted = %v", body["apiKey"])
	}

	// Another user cannot decrypt it.
	otherID := env.seedUser(t, models.PlanPro, 2_000_000, 5)
	recorder = env.request(t, http.MethodPost, "/v1/keys", env.token(t, otherID), "",
		map[string]any{"action": "decrypt", "keyId": keyID})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign decrypt status = %d", recorder.Code)
	}
}

func TestProxyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedUser(t, models.PlanFree, 100_000, 1)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"text":"pong"}]}`)
	}))
	defer upstream.Close()

	recorder := env.request(t, http.MethodPost, "/v1/proxy", env.token(t, userID), "",
		map[string]any{
			"targetUrl": upstream.URL,
			"method":    "POST",
			"model":     "gpt-3.5-turbo",
			"body":      map[string]any{"messages": []map[string]any{{"role": "user", "content": "ping"}}},
		})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if _, ok := body["data"]; !ok {
		t.Fatalf("missing data: %v", body)
	}
	usage, ok := body["usage"].(map[string]any)
	if !ok || usage["tokensUsed"].(float64) <= 0 {
		t.Fatalf("usage = %v", body["usage"])
	}

	var logs int64
	if err := env.db.Model(&models.UsageLog{}).Where("user_id = ?", userID).Count(&logs).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if logs != 1 {
		t.Fatalf("usage logs = %d, want 1", logs)
	}
}
