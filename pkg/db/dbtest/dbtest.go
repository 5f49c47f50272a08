// Package dbtest opens throwaway sqlite databases carrying the engine schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vendor_service_capacities (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  service_id TEXT NOT NULL,
  daily_capacity INTEGER NOT NULL DEFAULT 0,
  auto_assign_enabled BOOLEAN NOT NULL DEFAULT 1,
  priority_weight INTEGER NOT NULL DEFAULT 0,
  routing_strategy TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (vendor_id, service_id)
)`,
	`CREATE TABLE IF NOT EXISTS vendor_designer_capacities (
  id TEXT PRIMARY KEY,
  designer_id TEXT NOT NULL,
  service_id TEXT NOT NULL,
  daily_capacity INTEGER NOT NULL DEFAULT 0,
  is_primary BOOLEAN NOT NULL DEFAULT 0,
  auto_assign_enabled BOOLEAN NOT NULL DEFAULT 1,
  priority_weight INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (designer_id, service_id)
)`,
	`CREATE TABLE IF NOT EXISTS capacity_usages (
  entity_kind TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  service_id TEXT NOT NULL,
  day TEXT NOT NULL,
  committed_units INTEGER NOT NULL DEFAULT 0 CHECK (committed_units >= 0),
  updated_at DATETIME,
  PRIMARY KEY (entity_kind, entity_id, service_id, day)
)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  scope TEXT NOT NULL,
  owner_vendor_id TEXT,
  active BOOLEAN NOT NULL DEFAULT 1,
  service_ids TEXT NOT NULL DEFAULT '{}',
  routing_target TEXT NOT NULL,
  routing_strategy TEXT NOT NULL,
  allowed_vendor_ids TEXT NOT NULL DEFAULT '{}',
  excluded_vendor_ids TEXT NOT NULL DEFAULT '{}',
  fallback_action TEXT NOT NULL DEFAULT 'leave_pending',
  allow_partial_assignment BOOLEAN NOT NULL DEFAULT 0,
  match_criteria TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS automation_assignment_logs (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  request_id TEXT NOT NULL,
  request_type TEXT NOT NULL,
  rule_id TEXT,
  service_id TEXT NOT NULL,
  units INTEGER NOT NULL DEFAULT 1,
  day TEXT NOT NULL,
  step TEXT NOT NULL,
  candidates TEXT NOT NULL DEFAULT '[]',
  chosen_id TEXT,
  result TEXT,
  reason TEXT NOT NULL DEFAULT '',
  capacity_snapshot TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (run_id, sequence)
)`,
	`CREATE TABLE IF NOT EXISTS routing_cursors (
  cursor_key TEXT PRIMARY KEY,
  last_chosen_id TEXT NOT NULL,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS directory_members (
  id TEXT PRIMARY KEY,
  role TEXT NOT NULL,
  parent_vendor_id TEXT,
  display_name TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS service_requests (
  id TEXT PRIMARY KEY,
  request_type TEXT NOT NULL DEFAULT 'service_request',
  service_id TEXT NOT NULL,
  client_id TEXT NOT NULL,
  priority TEXT NOT NULL DEFAULT 'normal',
  status TEXT NOT NULL DEFAULT 'pending',
  is_rush BOOLEAN NOT NULL DEFAULT 0,
  is_vip BOOLEAN NOT NULL DEFAULT 0,
  units INTEGER NOT NULL DEFAULT 1,
  preferred_vendor_id TEXT,
  assignee_id TEXT,
  assigned_at DATETIME,
  vendor_assignee_id TEXT,
  vendor_assigned_at DATETIME,
  auto_assignment_status TEXT,
  last_automation_run_at DATETIME,
  last_automation_note TEXT,
  locked_assignment BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS platform_settings (
  id INTEGER PRIMARY KEY,
  max_urgent_percent TEXT NOT NULL,
  max_high_percent TEXT NOT NULL,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)`,
}

// Open returns a private in-memory database named after the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// one connection keeps the shared-cache database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
