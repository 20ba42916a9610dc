package config

import (
	"os"
	"testing"
)

// locateRepoRoot walks up from the working directory until it finds
// cmd/routerd/config/default.yaml, mirroring where Load expects to run from.
func locateRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(dir + "/cmd/routerd/config/default.yaml"); err == nil {
			return dir
		}
		dir += "/.."
	}
	t.Fatalf("could not locate cmd/routerd/config/default.yaml above %s", dir)
	return ""
}

func TestLoadDefaultConfig(t *testing.T) {
	t.Chdir(locateRepoRoot(t))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.MaxPeers <= 0 {
		t.Fatalf("expected a positive default max_peers, got %d", cfg.Network.MaxPeers)
	}
	if cfg.Routing.RouteBackCacheSize <= 0 {
		t.Fatalf("expected a positive default route_back_cache_size, got %d", cfg.Routing.RouteBackCacheSize)
	}
	if cfg.Logging.Level == "" {
		t.Fatalf("expected a default logging level")
	}
}

func TestLoadFromEnvDefaultsToBaseConfig(t *testing.T) {
	t.Chdir(locateRepoRoot(t))
	_ = os.Unsetenv("ROUTER_ENV")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Storage.DBPath == "" {
		t.Fatalf("expected a default db_path")
	}
}
