package config

import (
	"os"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Clearenv()
	os.Setenv("MFA_ON_UNENROLLED", "enroll")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWKSCacheTTL != "1h" {
		t.Errorf("JWKSCacheTTL = %q, want %q", cfg.JWKSCacheTTL, "1h")
	}
	if cfg.DecisionCacheTTL != "5s" {
		t.Errorf("DecisionCacheTTL = %q, want %q", cfg.DecisionCacheTTL, "5s")
	}
	if cfg.DecisionCacheBackend != "memory" {
		t.Errorf("DecisionCacheBackend = %q, want memory", cfg.DecisionCacheBackend)
	}
	if cfg.MFAAssertionTTL != "5m" {
		t.Errorf("MFAAssertionTTL = %q, want %q", cfg.MFAAssertionTTL, "5m")
	}
	if cfg.DecisionKafkaTopic != "azkaban-decisions" {
		t.Errorf("DecisionKafkaTopic = %q, want default", cfg.DecisionKafkaTopic)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	setRequired(t)
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("IDP_ISSUER", "https://securetoken.example.com/demo")
	os.Setenv("DECISION_CACHE_TTL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.IDPIssuer != "https://securetoken.example.com/demo" {
		t.Errorf("IDPIssuer = %q", cfg.IDPIssuer)
	}
	if d, err := cfg.DecisionCacheTTLDuration(); err != nil || d.Seconds() != 2 {
		t.Errorf("DecisionCacheTTLDuration = %v, %v, want 2s", d, err)
	}
}

func TestLoad_MFAOnUnenrolledRequired(t *testing.T) {
	os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when MFA_ON_UNENROLLED is unset")
	}

	os.Setenv("MFA_ON_UNENROLLED", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject MFA_ON_UNENROLLED=maybe")
	}

	os.Setenv("MFA_ON_UNENROLLED", "allow")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with allow: %v", err)
	}
}

func TestLoad_RedisBackendRequiresAddr(t *testing.T) {
	setRequired(t)
	os.Setenv("DECISION_CACHE_BACKEND", "redis")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when redis backend has no REDIS_ADDR")
	}

	os.Setenv("REDIS_ADDR", "localhost:6379")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with REDIS_ADDR: %v", err)
	}
}

func TestLoad_MFASecretKey(t *testing.T) {
	setRequired(t)
	os.Setenv("MFA_SECRET_KEY", "zz")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject non-hex MFA_SECRET_KEY")
	}

	os.Setenv("MFA_SECRET_KEY", "00112233445566778899aabbccddeeff")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject 16-byte MFA_SECRET_KEY")
	}

	os.Setenv("MFA_SECRET_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with 32-byte key: %v", err)
	}
	if got := len(cfg.MFASecretKeyBytes()); got != 32 {
		t.Errorf("MFASecretKeyBytes length = %d, want 32", got)
	}
}

func TestPermissionOverrideMap(t *testing.T) {
	cfg := &Config{PermissionOverrides: "users:deactivate=users:update_status, wallets:list=wallets:read"}
	m, err := cfg.PermissionOverrideMap()
	if err != nil {
		t.Fatalf("PermissionOverrideMap: %v", err)
	}
	if m["users:deactivate"] != "users:update_status" {
		t.Errorf("override = %q", m["users:deactivate"])
	}
	if m["wallets:list"] != "wallets:read" {
		t.Errorf("override = %q", m["wallets:list"])
	}

	cfg = &Config{PermissionOverrides: "broken"}
	if _, err := cfg.PermissionOverrideMap(); err == nil {
		t.Fatal("PermissionOverrideMap should reject malformed entries")
	}
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "b1:9092, b2:9092"}
	got := cfg.KafkaBrokerList()
	if len(got) != 2 || got[0] != "b1:9092" || got[1] != "b2:9092" {
		t.Errorf("KafkaBrokerList = %v", got)
	}
	cfg = &Config{}
	if cfg.KafkaBrokerList() != nil {
		t.Error("KafkaBrokerList should be nil when unset")
	}
}
