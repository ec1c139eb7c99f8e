package database

import (
	"fmt"
	"net/url"

	"github.com/dliang/chatlink/internal/config"
)

// appName tags archive connections in pg_stat_activity.
const appName = "chatlink-archive"

// BuildConnString builds the archive database connection string from
// config. The password is URL-encoded to handle special characters.
func BuildConnString(cfg config.DBConfig) string {
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
		appName,
	)
}
