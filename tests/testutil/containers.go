package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresDatabase = "countly"
	PostgresUser     = "countly"
	PostgresPassword = "countly"
)

// TestContainers holds the backing services of the relay
type TestContainers struct {
	PostgresContainer testcontainers.Container
	RedisContainer    testcontainers.Container
	NATSContainer     testcontainers.Container

	PostgresURL string
	RedisHost   string
	RedisPort   int
	NATSURL     string
}

// Services selects which containers StartContainers runs
type Services struct {
	Postgres bool
	Redis    bool
	NATS     bool
}

// AllServices starts every container
var AllServices = Services{Postgres: true, Redis: true, NATS: true}

// StartContainers starts the selected containers. On error the ones already
// running are terminated.
func StartContainers(ctx context.Context, services Services) (tc *TestContainers, err error) {
	tc = &TestContainers{}
	defer func() {
		if err != nil {
			_ = tc.Cleanup(ctx)
			tc = nil
		}
	}()

	if services.Postgres {
		if err = tc.startPostgres(ctx); err != nil {
			return nil, err
		}
	}
	if services.Redis {
		if err = tc.startRedis(ctx); err != nil {
			return nil, err
		}
	}
	if services.NATS {
		if err = tc.startNATS(ctx); err != nil {
			return nil, err
		}
	}
	return tc, nil
}

func (tc *TestContainers) startPostgres(ctx context.Context) error {
	pgContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase(PostgresDatabase),
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start postgres container: %w", err)
	}
	tc.PostgresContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	tc.PostgresURL = connStr
	return nil
}

func (tc *TestContainers) startRedis(ctx context.Context) error {
	redisContainer, err := redis.Run(ctx, "redis:7-alpine",
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		return fmt.Errorf("failed to start redis container: %w", err)
	}
	tc.RedisContainer = redisContainer

	host, err := redisContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis host: %w", err)
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		return fmt.Errorf("failed to get redis port: %w", err)
	}

	tc.RedisHost = host
	tc.RedisPort = port.Int()
	return nil
}

func (tc *TestContainers) startNATS(ctx context.Context) error {
	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start nats container: %w", err)
	}
	tc.NATSContainer = natsContainer

	host, err := natsContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get nats host: %w", err)
	}
	port, err := natsContainer.MappedPort(ctx, nat.Port("4222/tcp"))
	if err != nil {
		return fmt.Errorf("failed to get nats port: %w", err)
	}

	tc.NATSURL = fmt.Sprintf("nats://%s:%s", host, port.Port())
	return nil
}

// Cleanup terminates all started containers
func (tc *TestContainers) Cleanup(ctx context.Context) error {
	var errs []error

	for name, c := range map[string]testcontainers.Container{
		"postgres": tc.PostgresContainer,
		"redis":    tc.RedisContainer,
		"nats":     tc.NATSContainer,
	} {
		if c == nil {
			continue
		}
		if err := c.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate %s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
