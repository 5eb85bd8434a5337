// Package proxy orchestrates one metered outbound call: validate, allowlist,
// quota-check, resolve credentials, forward, then commit usage.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/allowlist"
	"github.com/IshanKhanpara/tokenguard1/internal/estimator"
	"github.com/IshanKhanpara/tokenguard1/internal/keyvault"
	"github.com/IshanKhanpara/tokenguard1/internal/ledger"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// maxTargetURLLength caps the targetUrl field.
	maxTargetURLLength = 2000
	// maxHeaderValueLength caps each forwarded header value.
	maxHeaderValueLength = 1000
	// maxResponseBytes caps how much of an upstream response is buffered.
	maxResponseBytes = 10 << 20
	// upstreamTimeout bounds the outbound call end to end.
	upstreamTimeout = 60 * time.Second
)

// allowedMethods enumerates forwardable HTTP methods.
var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Request is the client-supplied description of the call to forward.
type Request struct {
	TargetURL string            `json:"targetUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
	Model     string            `json:"model"`
	APIKeyID  string            `json:"apiKeyId"`
}

// Outcome is what the HTTP handler returns to the client: a status code and
// a JSON-marshalable payload.
type Outcome struct {
	Status  int
	Payload map[string]any
}

// Orchestrator runs the proxy lifecycle. It is stateless; every request is
// independent.
type Orchestrator struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	vault    *keyvault.Vault
	client   *http.Client
	validate func(string) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTargetValidator replaces the outbound-target validator. Tests use it
// to admit loopback upstreams.
func WithTargetValidator(validate func(string) error) Option {
	return func(o *Orchestrator) { o.validate = validate }
}

// New constructs an Orchestrator. A nil client gets the default outbound
// client with the standard upstream timeout.
func New(db *gorm.DB, quota *ledger.Ledger, vault *keyvault.Vault, client *http.Client, opts ...Option) *Orchestrator {
	if client == nil {
		client = &http.Client{Timeout: upstreamTimeout}
	}
	o := &Orchestrator{db: db, ledger: quota, vault: vault, client: client, validate: allowlist.Validate}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the full lifecycle for one request. It never returns an
// error: every failure mode maps to a client-facing Outcome.
func (o *Orchestrator) Execute(ctx context.Context, userID uint64, req Request) Outcome {
	target := strings.TrimSpace(req.TargetURL)
	if target == "" {
		return failure(http.StatusBadRequest, "targetUrl is required")
	}
	if len(target) > maxTargetURLLength {
		return failure(http.StatusBadRequest, "targetUrl exceeds maximum length")
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	if !allowedMethods[method] {
		return failure(http.StatusBadRequest, "method not allowed")
	}

	for name, value := range req.Headers {
		if len(value) > maxHeaderValueLength {
			return failure(http.StatusBadRequest, fmt.Sprintf("header %q exceeds maximum length", name))
		}
	}

	if errValidate := o.validate(target); errValidate != nil {
		o.audit(ctx, userID, models.AuditTargetRejected, map[string]any{
			"target_url": target,
			"reason":     errValidate.Error(),
		})
		return failure(http.StatusForbidden, "target URL is not allowed")
	}

	model := resolveModel(req)
	inputTokens := estimator.EstimateTokens(string(req.Body))

	check, errCheck := o.ledger.Check(ctx, userID, inputTokens)
	if errCheck != nil {
		log.WithError(errCheck).WithField("user_id", userID).Error("proxy: quota check failed")
		return failure(http.StatusInternalServerError, "usage check failed")
	}
	if !check.Allowed {
		return Outcome{
			Status: http.StatusTooManyRequests,
			Payload: map[string]any{
				"error":       "usage limit exceeded",
				"reason":      check.Reason,
				"percentUsed": check.PercentUsed,
				"limit":       check.Limit,
				"current":     check.CurrentUsage,
			},
		}
	}

	var apiKeyID *string
	providerKey := ""
	if strings.TrimSpace(req.APIKeyID) != "" {
		key, outcome := o.resolveKey(ctx, userID, req.APIKeyID)
		if outcome != nil {
			return *outcome
		}
		providerKey = key.plaintext
		apiKeyID = &key.id
	}

	upstream, errUpstream := o.forward(ctx, method, target, req.Headers, req.Body, providerKey)
	if errUpstream != nil {
		log.WithError(errUpstream).WithFields(log.Fields{
			"user_id": userID,
			"target":  target,
		}).Warn("proxy: upstream request failed")
		return failure(http.StatusBadGateway, "upstream request failed")
	}

	outputTokens := estimator.EstimateTokens(string(upstream.body))
	tokensUsed := inputTokens + outputTokens
	cost := estimator.EstimateCost(tokensUsed, model)

	var providerTokens *int64
	if usage, ok := estimator.UsageFromResponse(upstream.body); ok {
		total := usage.TotalTokens
		providerTokens = &total
	}

	commit, errCommit := o.ledger.Commit(ctx, ledger.CommitInput{
		UserID:         userID,
		TokensUsed:     tokensUsed,
		CostUSD:        cost,
		Model:          model,
		Endpoint:       target,
		APIKeyID:       apiKeyID,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		ProviderTokens: providerTokens,
		StatusCode:     upstream.status,
		DurationMS:     upstream.durationMS,
	})
	percentUsed := check.PercentUsed
	shouldWarn := check.ShouldWarn
	switch {
	case errCommit != nil:
		// The provider already answered; losing the response now would make
		// the user pay upstream for nothing. Return it and log the gap.
		log.WithError(errCommit).WithField("user_id", userID).Error("proxy: usage commit failed")
	case commit.Blocked:
		// Check passed moments ago, so a blocked commit means a concurrent
		// burst landed in between. Accepted race; the response still goes out.
		log.WithFields(log.Fields{
			"user_id": userID,
			"reason":  commit.Reason,
		}).Warn("proxy: commit blocked after admission")
		percentUsed = commit.PercentUsed
	default:
		percentUsed = commit.PercentUsed
		shouldWarn = commit.ShouldWarn
	}

	var data any
	if len(upstream.body) > 0 {
		if errUnmarshal := json.Unmarshal(upstream.body, &data); errUnmarshal != nil {
			data = string(upstream.body)
		}
	}

	return Outcome{
		Status: upstream.status,
		Payload: map[string]any{
			"data": data,
			"usage": map[string]any{
				"tokensUsed":    tokensUsed,
				"estimatedCost": cost,
				"percentUsed":   percentUsed,
				"shouldWarn":    shouldWarn,
			},
		},
	}
}

// resolveModel picks the model for cost estimation: the request's model
// field when set, otherwise the "model" key inside the forwarded body, the
// way chat-completion payloads carry it.
func resolveModel(req Request) string {
	if model := strings.TrimSpace(req.Model); model != "" {
		return model
	}
	if len(req.Body) == 0 {
		return ""
	}
	var payload struct {
		Model string `json:"model"`
	}
	if errUnmarshal := json.Unmarshal(req.Body, &payload); errUnmarshal != nil {
		return ""
	}
	return strings.TrimSpace(payload.Model)
}

type resolvedKey struct {
	id        string
	plaintext string
}

// resolveKey loads and decrypts a stored provider key. The plaintext lives
// only in the returned value for the duration of the call.
func (o *Orchestrator) resolveKey(ctx context.Context, userID uint64, keyID string) (resolvedKey, *Outcome) {
	var key models.APIKey
	errFind := o.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", keyID, userID).
		Take(&key).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).WithField("user_id", userID).Error("proxy: api key lookup failed")
			outcome := failure(http.StatusInternalServerError, "api key lookup failed")
			return resolvedKey{}, &outcome
		}
		outcome := failure(http.StatusBadRequest, "invalid api key")
		return resolvedKey{}, &outcome
	}
	if !key.IsActive {
		outcome := failure(http.StatusBadRequest, "invalid api key")
		return resolvedKey{}, &outcome
	}

	plaintext, errDecrypt := o.vault.Decrypt(key.EncryptedKey)
	if errDecrypt != nil {
		o.audit(ctx, userID, models.AuditKeyDecryptFailed, map[string]any{
			"api_key_id": key.ID,
		})
		outcome := failure(http.StatusInternalServerError, "failed to decrypt api key")
		return resolvedKey{}, &outcome
	}
	return resolvedKey{id: key.ID, plaintext: plaintext}, nil
}

type upstreamResult struct {
	status     int
	body       []byte
	durationMS int64
}

// forward performs the outbound call. Client-supplied headers are copied
// first; a resolved provider key then overrides Authorization so a stored
// key always wins over a forwarded one.
func (o *Orchestrator) forward(ctx context.Context, method, target string, headers map[string]string, body json.RawMessage, providerKey string) (upstreamResult, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	callCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(callCtx, method, target, reader)
	if errReq != nil {
		return upstreamResult{}, fmt.Errorf("proxy: build request: %w", errReq)
	}

	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if providerKey != "" {
		req.Header.Set("Authorization", "Bearer "+providerKey)
	}

	start := time.Now()
	resp, errDo := o.client.Do(req)
	if errDo != nil {
		return upstreamResult{}, fmt.Errorf("proxy: upstream call: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return upstreamResult{}, fmt.Errorf("proxy: read upstream response: %w", errRead)
	}

	return upstreamResult{
		status:     resp.StatusCode,
		body:       respBody,
		durationMS: time.Since(start).Milliseconds(),
	}, nil
}

// audit records a security-relevant event. Best-effort.
func (o *Orchestrator) audit(ctx context.Context, userID uint64, action string, detail map[string]any) {
	payload, errMarshal := json.Marshal(detail)
	if errMarshal != nil {
		payload = nil
	}
	row := models.AuditLog{
		Action: action,
		UserID: userID,
		Detail: datatypes.JSON(payload),
	}
	if errCreate := o.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("action", action).Warn("proxy: audit log insert failed")
	}
}

func failure(status int, message string) Outcome {
	return Outcome{Status: status, Payload: map[string]any{"error": message}}
}
