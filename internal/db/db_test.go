package db

import "testing"

func TestIsMySQL(t *testing.T) {
	for dsn, want := range map[string]bool{
		"app:apppass@tcp(127.0.0.1:3306)/aether?parseTime=true": true,
		"file::memory:?cache=shared":                            false,
		"/var/lib/aether/jobs.db":                               false,
	} {
		if got := IsMySQL(dsn); got != want {
			t.Fatalf("IsMySQL(%q) = %v, want %v", dsn, got, want)
		}
	}
}

func TestOpen_SQLiteMemory(t *testing.T) {
	gdb, err := Open("file::memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := gdb.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("exec: %v", err)
	}
}
