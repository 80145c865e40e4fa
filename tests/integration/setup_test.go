package integration

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/internal/cache"
	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/tests/testutil"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const testStream = "COUNTLY_TEST"

var (
	testContainers *testutil.TestContainers
	testDB         *database.DB
	testSQL        *sql.DB
	testRedis      *redis.Client
	testQueue      *queue.Client
)

// TestMain starts postgres, redis and NATS once for the package
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	ctx := context.Background()

	tc, err := testutil.StartContainers(ctx, testutil.AllServices)
	if err != nil {
		fmt.Printf("Failed to start containers: %v\n", err)
		os.Exit(1)
	}
	testContainers = tc

	if err := connect(ctx); err != nil {
		fmt.Printf("Failed to connect to test services: %v\n", err)
		tc.Cleanup(ctx)
		os.Exit(1)
	}

	code := m.Run()

	testQueue.Close()
	testRedis.Close()
	testSQL.Close()
	testDB.Close()
	tc.Cleanup(ctx)

	os.Exit(code)
}

func connect(ctx context.Context) error {
	var err error

	testDB, err = database.NewDB(testContainers.DatabaseConfig())
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := testDB.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	// A second driver reads rows back independently of the pgx pool.
	testSQL, err = sql.Open("postgres", testContainers.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to open database/sql connection: %w", err)
	}

	testRedis, err = cache.NewClient(testContainers.CacheConfig())
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}

	testQueue, err = queue.NewClient(testContainers.QueueConfig(testStream))
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}
	return nil
}

func resetJournal(t *testing.T) {
	t.Helper()
	if _, err := testDB.Exec(context.Background(), "TRUNCATE TABLE command_journal RESTART IDENTITY"); err != nil {
		t.Fatalf("Failed to reset journal: %v", err)
	}
}

func resetRedis(t *testing.T) {
	t.Helper()
	if err := testRedis.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to reset redis: %v", err)
	}
}

func resetStreams(t *testing.T) {
	t.Helper()
	js := testQueue.JetStream()
	cfg := testQueue.GetConfig()
	for _, name := range []string{cfg.StreamName, cfg.DLQStreamName} {
		if err := js.PurgeStream(name); err != nil {
			t.Fatalf("Failed to purge stream %s: %v", name, err)
		}
	}
}

// eventually polls cond until it holds or the timeout elapses
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
