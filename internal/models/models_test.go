package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestBotStatus_Fields(t *testing.T) {
	typ := reflect.TypeOf(BotStatus{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "Status", "size:16")
	assertGormTag(t, typ, "Status", "default:stopped")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "Message", "type:text")
	assertGormTag(t, typ, "Logs", "type:text")

	assertFieldType(t, typ, "ID", "string")
	assertFieldType(t, typ, "PID", "int")
	assertFieldType(t, typ, "LastStarted", "*time.Time")
	assertFieldType(t, typ, "LastStopped", "*time.Time")
	assertFieldType(t, typ, "LastExitCode", "*int")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestBotEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(BotEvent{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "BotID", "size:64")
	assertGormTag(t, typ, "BotID", "not null")
	assertGormTag(t, typ, "BotID", "index")
	assertGormTag(t, typ, "Status", "size:16")
	assertGormTag(t, typ, "Message", "type:text")
	assertGormTag(t, typ, "CreatedAt", "index")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "ExitCode", "*int")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestBotStatus_Instantiation(t *testing.T) {
	now := time.Now()
	code := 0
	s := BotStatus{
		ID:           "w1",
		Status:       "stopped",
		PID:          0,
		LastStarted:  &now,
		LastStopped:  &now,
		LastExitCode: &code,
		Message:      "process exited with code 0",
		Logs:         `[{"text":"ready"}]`,
	}
	if s.ID != "w1" {
		t.Errorf("ID = %q, want %q", s.ID, "w1")
	}
	if *s.LastExitCode != 0 {
		t.Errorf("LastExitCode = %d, want 0", *s.LastExitCode)
	}
}
