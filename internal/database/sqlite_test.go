package database

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

type testRaiderRow struct {
	UserID        int64  `gorm:"column:user_id;primaryKey"`
	TwitterHandle string `gorm:"column:twitter_handle;size:190"`
}

func (testRaiderRow) TableName() string {
	return "raiders"
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatalf("expected rejection of empty path")
	}
}

func TestOpenSQLiteMigratesModels(t *testing.T) {
	dsn := fmt.Sprintf("file:open_test_%d?mode=memory&cache=shared", time.Now().UnixNano())

	db, err := OpenSQLite(dsn, zap.NewNop(), &testRaiderRow{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if !db.Migrator().HasTable("raiders") {
		t.Fatalf("expected raiders table migrated")
	}
	if !db.Migrator().HasTable("db_migrations") {
		t.Fatalf("expected migration ledger table")
	}

	var applied []migrationRecord
	if err := db.Find(&applied).Error; err != nil {
		t.Fatalf("failed to list applied migrations: %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("expected migrations recorded in the ledger")
	}
}

func TestHandleNormalizationMigrationRunsOnce(t *testing.T) {
	dsn := fmt.Sprintf("file:migration_test_%d?mode=memory&cache=shared", time.Now().UnixNano())

	db, err := OpenSQLite(dsn, nil, &testRaiderRow{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	// A row with a doubled prefix would have been repaired had it existed
	// at open time; rows written afterwards are the registration path's
	// responsibility. Re-running open must not reapply the migration.
	if err := db.Create(&testRaiderRow{UserID: 1, TwitterHandle: "@@legacy"}).Error; err != nil {
		t.Fatalf("failed to seed raider: %v", err)
	}

	reopened, err := OpenSQLite(dsn, nil, &testRaiderRow{})
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}

	var stored testRaiderRow
	if err := reopened.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load raider: %v", err)
	}
	if stored.TwitterHandle != "@@legacy" {
		t.Fatalf("expected recorded migration to stay applied, got %q", stored.TwitterHandle)
	}

	var count int64
	if err := reopened.Model(&migrationRecord{}).
		Where("name = ?", migrationNormalizeTwitterHandles).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count ledger rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single ledger row, got %d", count)
	}
}

func TestHandleNormalizationRepairsLegacyRows(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&testRaiderRow{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := db.Create(&testRaiderRow{UserID: 1, TwitterHandle: "@@legacy"}).Error; err != nil {
		t.Fatalf("failed to seed raider: %v", err)
	}
	if err := db.Create(&testRaiderRow{UserID: 2, TwitterHandle: "@clean"}).Error; err != nil {
		t.Fatalf("failed to seed raider: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	var repaired, clean testRaiderRow
	if err := db.Where("user_id = ?", 1).Take(&repaired).Error; err != nil {
		t.Fatalf("failed to load raider: %v", err)
	}
	if err := db.Where("user_id = ?", 2).Take(&clean).Error; err != nil {
		t.Fatalf("failed to load raider: %v", err)
	}
	if repaired.TwitterHandle != "@legacy" {
		t.Fatalf("expected doubled prefix collapsed, got %q", repaired.TwitterHandle)
	}
	if clean.TwitterHandle != "@clean" {
		t.Fatalf("expected clean handle untouched, got %q", clean.TwitterHandle)
	}
}
