package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// WithTestDb spins up a dedicated postgres database for a test, applies the supplied
// ddl and hands the resulting pool to the action callback. The database is dropped
// afterwards. Tests expect a postgres instance on localhost, as provided by the
// docker-compose used in CI.
func WithTestDb(ddl string, action func(db *pgxpool.Pool) error) error {
	ctx := context.Background()

	dbName := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	connectionString := "host=localhost port=5432 user=postgres password=psw sslmode=disable"
	db, err := pgx.Connect(ctx, connectionString)
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close(ctx)

	_, err = db.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	// Connect again, this time to the database we just created. This is the database
	// used for the test.
	testDbPool, err := pgxpool.New(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		testDbPool.Close()

		// Disconnect all db users before cleanup.
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			fmt.Println("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			fmt.Println("Failed to drop database")
		}
	}()

	if _, err := testDbPool.Exec(ctx, ddl); err != nil {
		return errors.WithStack(err)
	}

	return action(testDbPool)
}
