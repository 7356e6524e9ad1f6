package store

import (
	"errors"
	"strings"
)

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
)

type DBConfig struct {
	DSN           string
	Type          DatabaseType
	MigrationsDir string
}

var ErrNotFound = errors.New("record not found")

// DetectType picks the backend from the DSN scheme. Anything that is not a
// postgres URL is opened as a sqlite file.
func DetectType(dsn string) DatabaseType {
	if strings.HasPrefix(dsn, "postgres") {
		return DBTypePostgres
	}
	return DBTypeSQLite
}
