package db

import (
	"errors"
	"fmt"

	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migrate runs schema migrations and seeds required configuration rows.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.PlanLimit{},
		&models.MonthlyUsage{},
		&models.UsageLog{},
		&models.APIKey{},
		&models.SpendingAlert{},
		&models.AdminNotification{},
		&models.AuditLog{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultPlanLimits(conn); errSeed != nil {
		return errSeed
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_usage_logs_user_month",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_usage_logs_user_month
				ON usage_logs (user_id, created_at DESC)
			`,
		},
		{
			name: "idx_usage_logs_model",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_usage_logs_model
				ON usage_logs (user_id, model)
			`,
		},
		{
			name: "idx_api_keys_user_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_keys_user_active
				ON api_keys (user_id)
				WHERE is_active = true
			`,
		},
		{
			name: "idx_admin_notifications_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_admin_notifications_created_at
				ON admin_notifications (created_at DESC)
			`,
		},
		{
			name: "idx_audit_logs_user_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_audit_logs_user_created_at
				ON audit_logs (user_id, created_at DESC)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}

// defaultPlanLimits seeds the plan configuration consumed by the quota
// system. Values mirror the published pricing page; admins adjust them
// through billing configuration, never through this code path.
var defaultPlanLimits = []models.PlanLimit{
	{
		Plan:              models.PlanFree,
		MaxTokensPerMonth: 100_000,
		MaxAPIKeys:        1,
		PriceUSD:          0,
		RateLimit:         2,
		Features:          datatypes.JSON(`["basic_analytics"]`),
	},
	{
		Plan:              models.PlanPro,
		MaxTokensPerMonth: 2_000_000,
		MaxAPIKeys:        5,
		PriceUSD:          29,
		RateLimit:         10,
		Features:          datatypes.JSON(`["basic_analytics","usage_alerts","priority_support"]`),
	},
	{
		Plan:              models.PlanTeam,
		MaxTokensPerMonth: 10_000_000,
		MaxAPIKeys:        20,
		PriceUSD:          99,
		RateLimit:         30,
		Features:          datatypes.JSON(`["basic_analytics","usage_alerts","priority_support","team_management","spending_limits"]`),
	},
}

// ensureDefaultPlanLimits inserts plan limit rows that do not exist yet.
// Existing rows are left untouched so admin overrides survive restarts.
func ensureDefaultPlanLimits(conn *gorm.DB) error {
	for _, plan := range defaultPlanLimits {
		var existing models.PlanLimit
		errFind := conn.Where("plan = ?", plan.Plan).First(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("db: query plan limit %s: %w", plan.Plan, errFind)
		}
		if errCreate := conn.Create(&plan).Error; errCreate != nil {
			return fmt.Errorf("db: seed plan limit %s: %w", plan.Plan, errCreate)
		}
	}
	return nil
}
