package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("DEEPSERVE_BASE_DIR", "/srv/deepserve")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q, want :8000", cfg.ListenAddr)
	}
	if cfg.DBPath != filepath.Join("/srv/deepserve", "deepserve.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.HostDir != cfg.BaseDir {
		t.Errorf("HostDir = %q, want BaseDir %q", cfg.HostDir, cfg.BaseDir)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() with empty JWT_SECRET_KEY should fail")
	}
}

func TestLoadRejectsUnknownAlgorithm(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "x")
	t.Setenv("JWT_ALGORITHM", "RS256")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() with RS256 should fail")
	}
}

func TestPathHelpers(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "x")
	t.Setenv("JWT_ALGORITHM", "HS256")
	t.Setenv("DEEPSERVE_BASE_DIR", "/data")
	t.Setenv("DEEPSERVE_HOST_DIR", "/host/data")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.UploadsDir(7, "conv-1"); got != "/data/uploads/7/conv-1" {
		t.Errorf("UploadsDir = %q", got)
	}
	if got := cfg.HostPath("/data/skills/pdf"); got != "/host/data/skills/pdf" {
		t.Errorf("HostPath = %q", got)
	}
}
