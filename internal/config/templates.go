package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Scenario Trader Configuration

[engine]
# Open a simulated position when a scenario reaches its trigger band
auto_execute_on_trigger = true
# Close the position when target 1 is reached
auto_exit_on_target = true
# Close the position when the stop loss is hit
auto_exit_on_stop = true
# Notional size of each simulated position
default_position_size = 1000.0
# Leverage applied to P&L (R-multiple is unaffected)
leverage = 1.0
# Plans evaluated in parallel per tick
workers = 4
# Buffered quotes waiting for evaluation
queue_size = 1024
# How often plans and positions edited by other processes are picked up
refresh_interval = "1s"

[store]
# Storage driver: memory, sqlite3, postgres
driver = "sqlite3"
# Data source; empty uses ~/.config/scenario-trader/trader.db for sqlite3
dsn = ""
# Buffered writes waiting for persistence
write_buffer = 256

[feed]
# WebSocket quote feed URL (JSON messages: symbol, price, high24h, low24h, ts)
url = ""
# Instruments to subscribe in addition to those of live plans
symbols = []
# Reconnect attempts before giving up (0 = forever)
max_reconnects = 0
# Initial reconnect delay
reconnect_delay = "1s"

[notifications]
# Enable notifications
enabled = true
# Minimum severity delivered: info, warning, critical
min_severity = "info"
# Queue length for asynchronous delivery
queue_size = 128

[notifications.terminal]
enabled = true
bell = true

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = 0

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true

[ui]
# Enable colored output
color_enabled = true
# Date format
date_format = "02-Jan-2006"
# Time format
time_format = "15:04:05"
`

func createTemplateConfig(configDir, name string) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}

	return path, nil
}
