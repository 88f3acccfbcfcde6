package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateConnectionString turns a map of libpq keywords into a connection string.
// See https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
func CreateConnectionString(values map[string]string) string {
	result := ""
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	for k, v := range values {
		result += k + "='" + replacer.Replace(v) + "' "
	}
	return strings.TrimSpace(result)
}

// OpenPgxPool opens a connection pool to postgres and verifies it with a ping.
func OpenPgxPool(ctx context.Context, connection map[string]string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, CreateConnectionString(connection))
	if err != nil {
		return nil, err
	}
	err = db.Ping(ctx)
	return db, err
}
