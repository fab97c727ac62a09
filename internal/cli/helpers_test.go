package cli

import "github.com/marrow-labs/quotawatch/internal/config"

// reloadConfig forces a config reload. Used by tests that modify
// QUOTAWATCH_CONFIG_DIR via t.Setenv before exercising commands.
func reloadConfig() {
	_, _ = config.Reload()
}
