package models

import (
	"reflect"
	"strings"
	"testing"
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

func TestRun_Fields(t *testing.T) {
	typ := reflect.TypeOf(Run{})

	assertGormTag(t, typ, "UID", "primaryKey")
	assertGormTag(t, typ, "UID", "size:36")
	assertGormTag(t, typ, "PlanName", "index")
	assertGormTag(t, typ, "Dark", "default:false")
	assertGormTag(t, typ, "Dark", "index")
	assertGormTag(t, typ, "BeamtimeUID", "index")
	assertGormTag(t, typ, "ScanPlanUID", "index")
	assertGormTag(t, typ, "Metadata", "type:text")
	assertGormTag(t, typ, "ExitStatus", "default:running")
	assertGormTag(t, typ, "ExitStatus", "index")
	assertGormTag(t, typ, "StartedAt", "index")

	assertFieldType(t, typ, "Events", "int")
	assertFieldType(t, typ, "StartedAt", "time.Time")
	assertFieldType(t, typ, "StoppedAt", "*time.Time")
}

func TestScheduleRun_Fields(t *testing.T) {
	typ := reflect.TypeOf(ScheduleRun{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "Schedule", "not null")
	assertGormTag(t, typ, "Schedule", "index")
	assertGormTag(t, typ, "Status", "default:running")
	assertGormTag(t, typ, "RunUIDs", "type:json")
	assertGormTag(t, typ, "ErrorMessage", "type:text")

	assertFieldType(t, typ, "FinishedAt", "*time.Time")
}
