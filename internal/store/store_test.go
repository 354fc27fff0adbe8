package store

import "testing"

func TestNewBuildsExpectedDSN(t *testing.T) {
	s := New(Config{User: "glas", Password: "secret", Host: "db", Port: "3306", Name: "glas"})
	want := "glas:secret@tcp(db:3306)/glas?parseTime=true&loc=UTC"
	if s.dsn != want {
		t.Fatalf("unexpected dsn: got %q want %q", s.dsn, want)
	}
}

func TestNewFromDSNUsesDSNVerbatim(t *testing.T) {
	s := NewFromDSN("custom-dsn")
	if s.dsn != "custom-dsn" {
		t.Fatalf("expected dsn to be used verbatim, got %q", s.dsn)
	}
}
