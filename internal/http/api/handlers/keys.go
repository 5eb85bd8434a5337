package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/keyvault"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// defaultMaxAPIKeys caps stored keys when the plan has no configured limit.
const defaultMaxAPIKeys = 1

// KeysHandler manages stored provider API keys.
type KeysHandler struct {
	db    *gorm.DB
	vault *keyvault.Vault
}

// NewKeysHandler constructs a KeysHandler.
func NewKeysHandler(db *gorm.DB, vault *keyvault.Vault) *KeysHandler {
	return &KeysHandler{db: db, vault: vault}
}

// keyActionRequest is the tagged union accepted by Action. The action field
// selects the operation; remaining fields belong to one arm each.
type keyActionRequest struct {
	Action string `json:"action"`

	// encrypt arm
	Name     string `json:"name"`
	APIKey   string `json:"apiKey"`
	Provider string `json:"provider"`

	// decrypt arm
	KeyID string `json:"keyId"`
}

// Action dispatches on the request's action tag.
func (h *KeysHandler) Action(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body keyActionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	switch strings.TrimSpace(body.Action) {
	case "encrypt":
		h.encrypt(c, userID, body)
	case "decrypt":
		h.decrypt(c, userID, body)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

// encrypt stores a new provider key, enforcing the plan's key cap.
func (h *KeysHandler) encrypt(c *gin.Context, userID uint64, body keyActionRequest) {
	name := strings.TrimSpace(body.Name)
	plaintext := body.APIKey
	if name == "" || strings.TrimSpace(plaintext) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and apiKey are required"})
		return
	}
	provider := strings.TrimSpace(body.Provider)
	if provider == "" {
		provider = "openai"
	}

	maxKeys := h.resolveMaxKeys(c, userID)
	var activeKeys int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.APIKey{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&activeKeys).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key count failed"})
		return
	}
	if activeKeys >= int64(maxKeys) {
		c.JSON(http.StatusForbidden, gin.H{"error": "api key limit reached for plan"})
		return
	}

	encrypted, errEncrypt := h.vault.Encrypt(plaintext)
	if errEncrypt != nil {
		log.WithError(errEncrypt).WithField("user_id", userID).Error("keys: encrypt failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encrypt failed"})
		return
	}

	row := models.APIKey{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         name,
		Provider:     provider,
		EncryptedKey: encrypted,
		KeyHint:      keyvault.KeyHint(plaintext),
		IsActive:     true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store key failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"key": gin.H{
			"id":       row.ID,
			"name":     row.Name,
			"provider": row.Provider,
			"key_hint": row.KeyHint,
		},
	})
}

// decrypt returns the plaintext of a stored key. Owner-scoped: other users'
// key IDs behave as missing.
func (h *KeysHandler) decrypt(c *gin.Context, userID uint64, body keyActionRequest) {
	keyID := strings.TrimSpace(body.KeyID)
	if keyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keyId is required"})
		return
	}

	var row models.APIKey
	errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", keyID, userID).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key lookup failed"})
		return
	}

	plaintext, errDecrypt := h.vault.Decrypt(row.EncryptedKey)
	if errDecrypt != nil {
		h.auditDecryptFailure(c, userID, row.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decrypt failed"})
		return
	}

	now := timeNow().UTC()
	if errTouch := h.db.WithContext(c.Request.Context()).
		Model(&models.APIKey{}).
		Where("id = ?", row.ID).
		Update("last_used_at", now).Error; errTouch != nil {
		log.WithError(errTouch).WithField("api_key_id", row.ID).Warn("keys: refresh last_used_at failed")
	}

	c.JSON(http.StatusOK, gin.H{"apiKey": plaintext})
}

// List returns the caller's stored keys, ciphertext omitted.
func (h *KeysHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var rows []models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":           row.ID,
			"name":         row.Name,
			"provider":     row.Provider,
			"key_hint":     row.KeyHint,
			"is_active":    row.IsActive,
			"last_used_at": row.LastUsedAt,
			"created_at":   row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// resolveMaxKeys reads the caller's plan key cap, defaulting conservatively.
func (h *KeysHandler) resolveMaxKeys(c *gin.Context, userID uint64) int {
	plan := models.PlanFree
	var subscription models.Subscription
	errSub := h.db.WithContext(c.Request.Context()).
		Select("plan").
		Where("user_id = ?", userID).
		Take(&subscription).Error
	if errSub == nil && subscription.Plan != "" {
		plan = subscription.Plan
	}

	var planLimit models.PlanLimit
	errPlan := h.db.WithContext(c.Request.Context()).
		Select("max_api_keys").
		Where("plan = ?", plan).
		Take(&planLimit).Error
	if errPlan != nil || planLimit.MaxAPIKeys <= 0 {
		return defaultMaxAPIKeys
	}
	return planLimit.MaxAPIKeys
}

func (h *KeysHandler) auditDecryptFailure(c *gin.Context, userID uint64, keyID string) {
	detail, _ := json.Marshal(map[string]any{"api_key_id": keyID})
	row := models.AuditLog{
		Action:    models.AuditKeyDecryptFailed,
		UserID:    userID,
		Detail:    datatypes.JSON(detail),
		CreatedAt: time.Now().UTC(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("keys: audit log insert failed")
	}
}
