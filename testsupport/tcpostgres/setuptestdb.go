//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/db/migrate"
	database "github.com/alienJion/flextrike-drill-manager-go/pkg/db/postgres"
)

// create a pg connection pool for the drill manager testdatabase
func SetupTestDb() *pgxpool.Pool {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		log.Fatal(err)
	}
	container, err := SetupPostgres(ctx,
		WithPort(port.Port()),
		WithInitialDatabase("postgres", "password", "postgres"),
		WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
		WithName("flextrike-drill-manager-test"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	dbURL := fmt.Sprintf("postgresql://postgres:password@%s:%s/postgres",
		host, containerPort.Port())

	return initPool(dbURL)
}

// SetupExternalTestDb connects an already running database via TESTDB_URL.
// Used on CI where the database is provided as a service container.
func SetupExternalTestDb() *pgxpool.Pool {
	return initPool(os.Getenv("TESTDB_URL"))
}

func initPool(dbURL string) *pgxpool.Pool {
	if err := migrate.MigrateDb(dbURL); err != nil {
		log.Fatal(err)
	}
	pool, err := database.InitWithURL(dbURL)
	if err != nil {
		log.Fatal(err)
	}
	return pool
}

func ClearSummaryTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from repeat_summary")
}

func ClearDrillTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from drill")
}

func ClearAllTables(pool *pgxpool.Pool) {
	ClearSummaryTable(pool)
	ClearDrillTable(pool)
}
