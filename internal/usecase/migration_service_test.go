package usecase

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"stamp-cli/internal/domain"
	"stamp-cli/internal/repository"
	"stamp-cli/migrations"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	appliedMigrations map[string]*domain.Migration
	ensureErr         error
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		appliedMigrations: make(map[string]*domain.Migration),
	}
}

func (m *mockMigrationRepository) EnsureTable(ctx context.Context) error {
	return m.ensureErr
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.appliedMigrations {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	_, exists := m.appliedMigrations[version]
	return exists, nil
}

func (m *mockMigrationRepository) markApplied(versions ...string) {
	now := time.Now()
	for _, v := range versions {
		m.appliedMigrations[v] = &domain.Migration{Version: v, AppliedAt: &now, Status: domain.MigrationStatusApplied}
	}
}

func testMigrationsFS() fstest.MapFS {
	return fstest.MapFS{
		"sqlite/001_create_users.sql":    {Data: []byte("CREATE TABLE users (id INT);")},
		"sqlite/002_create_posts.sql":    {Data: []byte("CREATE TABLE posts (id INT);")},
		"sqlite/003_create_comments.sql": {Data: []byte("CREATE TABLE comments (id INT);")},
		"sqlite/README.md":               {Data: []byte("ignored")},
	}
}

// setupMigrationTestDB はschema_migrationsを持つインメモリSQLiteデータベースを作成する。
func setupMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("CREATE TABLE schema_migrations (version VARCHAR(14) PRIMARY KEY, applied_at DATETIME)").Error; err != nil {
		t.Fatalf("failed to create schema_migrations table: %v", err)
	}
	return db
}

func tableExists(t *testing.T, db *gorm.DB, table string) bool {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count).Error; err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return count == 1
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationTestDB(t)
	service := NewMigrationService(newMockMigrationRepository(), db, testMigrationsFS(), "sqlite")

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 3 {
		t.Errorf("want 3 migrations applied, got %d", count)
	}
	for _, table := range []string{"users", "posts", "comments"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s was not created", table)
		}
	}

	var recorded int64
	if err := db.Table("schema_migrations").Count(&recorded).Error; err != nil {
		t.Fatalf("failed to count schema_migrations: %v", err)
	}
	if recorded != 3 {
		t.Errorf("want 3 recorded versions, got %d", recorded)
	}
}

func TestMigrationService_ApplyMigrations_AlreadyApplied(t *testing.T) {
	db := setupMigrationTestDB(t)
	repo := newMockMigrationRepository()
	repo.markApplied("001", "002")
	service := NewMigrationService(repo, db, testMigrationsFS(), "sqlite")

	count, err := service.ApplyMigrations(context.Background())
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	// 未適用のマイグレーションのみ実行される
	if count != 1 {
		t.Errorf("want 1 migration applied, got %d", count)
	}
	if tableExists(t, db, "users") {
		t.Error("want users table untouched")
	}
}

func TestMigrationService_ApplyMigrations_InvalidSQL(t *testing.T) {
	fsys := testMigrationsFS()
	fsys["sqlite/004_invalid.sql"] = &fstest.MapFile{Data: []byte("INVALID SQL SYNTAX;")}
	service := NewMigrationService(newMockMigrationRepository(), setupMigrationTestDB(t), fsys, "sqlite")

	count, err := service.ApplyMigrations(context.Background())
	if err == nil {
		t.Fatal("want error for invalid SQL, got nil")
	}
	if count != 3 {
		t.Errorf("want 3 migrations applied before the failure, got %d", count)
	}
}

func TestMigrationService_InvalidFileName(t *testing.T) {
	fsys := fstest.MapFS{"sqlite/create.sql": {Data: []byte("SELECT 1;")}}
	service := NewMigrationService(newMockMigrationRepository(), setupMigrationTestDB(t), fsys, "sqlite")

	if _, err := service.GetMigrationStatus(context.Background()); err == nil {
		t.Error("want error for invalid migration file name")
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	repo := newMockMigrationRepository()
	repo.markApplied("001")
	service := NewMigrationService(repo, setupMigrationTestDB(t), testMigrationsFS(), "sqlite")

	got, err := service.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 migrations, got %d", len(got))
	}

	want := map[string]domain.MigrationStatus{
		"001": domain.MigrationStatusApplied,
		"002": domain.MigrationStatusPending,
		"003": domain.MigrationStatusPending,
	}
	for _, m := range got {
		if m.Status != want[m.Version] {
			t.Errorf("migration %s: want status %s, got %s", m.Version, want[m.Version], m.Status)
		}
	}
}

func TestMigrationService_EmbeddedMigrations(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	service := NewMigrationService(repository.NewMigrationRepository(db), db, migrations.FS, "sqlite")

	count, err := service.ApplyMigrations(context.Background())
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count == 0 {
		t.Error("want embedded migrations applied")
	}
	for _, table := range []string{"identities", "staged_transactions"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s was not created", table)
		}
	}

	// 二回目は何もしない
	count, err = service.ApplyMigrations(context.Background())
	if err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
	if count != 0 {
		t.Errorf("want 0 migrations on second run, got %d", count)
	}
}
