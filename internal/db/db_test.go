package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/hangar/internal/config"
	"github.com/zulandar/hangar/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "hangar"},
			want: "root@tcp(127.0.0.1:3306)/hangar?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3307, User: "bots", Password: "s3cret", Name: "fleet"},
			want: "bots:s3cret@tcp(db.internal:3307)/fleet?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialector_UnknownDriver(t *testing.T) {
	_, err := Dialector(config.DatabaseConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("error = %q, want unknown driver", err.Error())
	}
}

func TestDialector_Names(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"sqlite", "sqlite"},
		{"memory", "sqlite"},
		{"mysql", "mysql"},
	}
	for _, tt := range tests {
		d, err := Dialector(config.DatabaseConfig{Driver: tt.driver, Host: "h", Port: 1})
		if err != nil {
			t.Fatalf("Dialector(%s): %v", tt.driver, err)
		}
		if d.Name() != tt.want {
			t.Errorf("Dialector(%s).Name() = %q, want %q", tt.driver, d.Name(), tt.want)
		}
	}
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hangar.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(gdb)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}
	// Migrating twice is a no-op.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
}

func TestSeedWorkers_KeepsExistingRows(t *testing.T) {
	gdb, err := Connect(config.DatabaseConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(gdb)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	if err := gdb.Create(&models.BotStatus{ID: "a", Status: "running", PID: 42}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	workers := []config.WorkerConfig{{ID: "a"}, {ID: "b"}}
	if err := SeedWorkers(gdb, workers); err != nil {
		t.Fatalf("SeedWorkers: %v", err)
	}

	var a, b models.BotStatus
	gdb.First(&a, "id = ?", "a")
	gdb.First(&b, "id = ?", "b")
	if a.Status != "running" || a.PID != 42 {
		t.Errorf("a = %s/%d, want running/42", a.Status, a.PID)
	}
	if b.Status != "stopped" {
		t.Errorf("b.Status = %q, want stopped", b.Status)
	}

	var count int64
	gdb.Model(&models.BotStatus{}).Count(&count)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := sqliteDSN("hangar.db"); got != "hangar.db?_busy_timeout=5000&_journal_mode=WAL" {
		t.Errorf("sqliteDSN = %q", got)
	}
	if got := sqliteDSN("file:x.db?mode=ro"); got != "file:x.db?mode=ro" {
		t.Errorf("sqliteDSN kept query = %q", got)
	}
}
