package config

import "testing"

func TestLoad_DefaultsAppliedWithoutEnvOrFile(t *testing.T) {
	t.Setenv("XXL_ADMIN_BASE_URL", "http://admin:8080/xxl-job-admin/api")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWorkers != 30 || cfg.TaskQueueLength != 30 || cfg.TaskTimeout != 600 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogBackend != LogBackendDisk {
		t.Fatalf("expected disk backend default, got %v", cfg.LogBackend)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("XXL_ADMIN_BASE_URL", "http://admin:8080/xxl-job-admin/api")
	t.Setenv("XXL_MAX_WORKERS", "8")
	t.Setenv("XXL_LOG_BACKEND", "redis")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWorkers != 8 {
		t.Fatalf("expected maxWorkers=8, got %d", cfg.MaxWorkers)
	}
	if cfg.LogBackend != LogBackendRedis {
		t.Fatalf("expected redis backend, got %v", cfg.LogBackend)
	}
}

func TestLoad_MissingAdminURLFails(t *testing.T) {
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected error when adminBaseUrl is unset")
	}
}

func TestValidate_RejectsUnknownLogBackend(t *testing.T) {
	cfg := Defaults()
	cfg.AdminBaseURL = "http://x"
	cfg.LogBackend = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown log backend")
	}
}

func TestValidate_RejectsNonPositiveMaxWorkers(t *testing.T) {
	cfg := Defaults()
	cfg.AdminBaseURL = "http://x"
	cfg.MaxWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for maxWorkers=0")
	}
}
