package health

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openpdu/powerd/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving: the data directory must be writable and the default
// configuration readable. Failures here are fatal by policy.
func PerformStartupChecks(dataDir, defaultConfigPath string) error {
	logger := log.WithComponent("startup-check")

	if err := checkDataDir(dataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkDefaultConfig(defaultConfigPath); err != nil {
		return fmt.Errorf("default config check failed: %w", err)
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkDataDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %v", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}

func checkDefaultConfig(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot read default config: %w", err)
	}
	return f.Close()
}
