package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/migrations"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/database"
)

// PostgresImage is the stock PostgreSQL image the integration tests run against.
const PostgresImage = "postgres:16-alpine"

// TestDB holds the shared test container and a migrated connection pool.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests with
// every migration applied. The container is created once and reused across
// all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "pricematch_test",
			"POSTGRES_USER":     "pricematch",
			"POSTGRES_PASSWORD": "test_password",
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://pricematch:test_password@%s:%s/pricematch_test?sslmode=disable",
		host, port.Port())

	var db *database.DB
	for i := 0; i < 10; i++ {
		db, err = database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if err := database.RunMigrations(db, migrations.FS, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// Reset empties every table so a test starts from a known state.
func (tdb *TestDB) Reset(t *testing.T) {
	t.Helper()

	_, err := tdb.DB.Exec(context.Background(), `
		TRUNCATE price_checks, verified_associations, invoice_lines,
		         price_list_rows, price_lists RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("failed to reset test database: %v", err)
	}
}

// SeedPriceList inserts a price list and returns its id.
func (tdb *TestDB) SeedPriceList(t *testing.T, name string, active bool, validFrom *time.Time) int64 {
	t.Helper()

	var id int64
	err := tdb.DB.QueryRow(context.Background(),
		`INSERT INTO price_lists (name, is_active, valid_from) VALUES ($1, $2, $3) RETURNING id`,
		name, active, validFrom).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed price list: %v", err)
	}
	return id
}

// SeedRow inserts a price list row and returns its id. A blank code is stored as NULL.
func (tdb *TestDB) SeedRow(t *testing.T, listID int64, code, description string, price float64) int64 {
	t.Helper()

	var codeArg *string
	if code != "" {
		codeArg = &code
	}

	var id int64
	err := tdb.DB.QueryRow(context.Background(),
		`INSERT INTO price_list_rows (price_list_id, article_code, description, unit_price)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		listID, codeArg, description, price).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed price list row: %v", err)
	}
	return id
}

// SeedInvoiceLine inserts an invoice line and returns its id.
func (tdb *TestDB) SeedInvoiceLine(t *testing.T, documentID int64, lineNumber int, description, code string, price float64) int64 {
	t.Helper()

	var codeArg *string
	if code != "" {
		codeArg = &code
	}

	var id int64
	err := tdb.DB.QueryRow(context.Background(),
		`INSERT INTO invoice_lines (document_id, line_number, description, article_code, unit_price, quantity, line_total)
		 VALUES ($1, $2, $3, $4, $5, 1, $5) RETURNING id`,
		documentID, lineNumber, description, codeArg, price).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed invoice line: %v", err)
	}
	return id
}
