package config

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestReportLifecycle(t *testing.T) {
	tmpDir := t.TempDir()

	conf := &ReporterConfig{Destination: filepath.Join(tmpDir, "report.zip")}
	rpt, err := conf.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	srcPath := filepath.Join(tmpDir, "session.log")
	if err := os.WriteFile(srcPath, []byte("log line\n"), 0644); err != nil {
		t.Fatalf("Failed to write source file: %v", err)
	}

	rpt.Store("logs/session.log", srcPath)
	rpt.StoreData("config/config.yaml", []byte("version: 1\n"))
	rpt.StoreData("config/config.yaml", []byte("version: 1\n")) // versioned, not a panic
	rpt.Store("missing/file.txt", filepath.Join(tmpDir, "does-not-exist"))

	name := rpt.Name()
	if name == "" {
		t.Fatal("Name() returned empty string")
	}

	if err := rpt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	zr, err := zip.OpenReader(name)
	if err != nil {
		t.Fatalf("Report is not a readable archive: %v", err)
	}
	defer zr.Close()

	found := make(map[string]bool)
	for _, f := range zr.File {
		found[f.Name] = true
	}
	if !found["MANIFEST"] {
		t.Error("MANIFEST missing from report")
	}
	if !found["logs/session.log"] {
		t.Error("stored file missing from report")
	}
	if !found["config/config.yaml"] {
		t.Error("stored data missing from report")
	}
	if found["missing/file.txt"] {
		t.Error("absent source file must be skipped quietly")
	}
	// duplicate StoreData lands under a versioned name
	if len(zr.File) != 4 {
		t.Errorf("expected 4 archive entries, got %d", len(zr.File))
	}
}

func TestReportNilSafety(t *testing.T) {
	var rpt *Report
	rpt.Store("a", "b")
	rpt.StoreData("c", []byte("d"))
	if rpt.Name() != "" {
		t.Error("nil report must have empty name")
	}
	if err := rpt.Close(); err != nil {
		t.Errorf("nil report Close() error = %v", err)
	}
}
