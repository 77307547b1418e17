package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/chat"
	"noob2root-bot/internal/domain"
	infrapg "noob2root-bot/internal/infra/postgres"
	pgmigrations "noob2root-bot/internal/infra/postgres/migrations"
	infraredis "noob2root-bot/internal/infra/redis"
)

// scriptedProvider hands out distinct questions whose first option is right.
type scriptedProvider struct{ n int }

func (p *scriptedProvider) Complete(_ context.Context, _, category, _ string) (string, error) {
	p.n++
	return fmt.Sprintf(`{"question":"%s check %d?","options":["yes","no","maybe","never"],"answer":1}`, category, p.n), nil
}

func TestDuelPersistsProgressEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDocuments(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	logger := zap.NewNop()
	hub := chat.NewHub(logger)
	hub.AddChannel("quiz", "quiz-game")
	hub.AddMember(domain.Member{ID: "u1", DisplayName: "Alice"})
	hub.AddMember(domain.Member{ID: "u2", DisplayName: "Bob"})

	docs := infrapg.NewDocumentStore(pool)
	ledger := app.NewLedger(docs, hub, infraredis.NewLeaderboard(redisClient), logger)
	source := app.NewQuestionSource(&scriptedProvider{}, app.NewDocumentBank(docs), logger, app.WithModels([]string{"m"}))
	coord := app.NewCoordinator(app.CoordinatorDeps{
		Platform: hub,
		Source:   source,
		Scorer:   app.NewScorer(ledger, nil, true, logger),
		Ledger:   ledger,
		Sessions: infraredis.NewSessionStore(redisClient, time.Minute),
		Logger:   logger,
	}, app.CoordinatorConfig{AnswerWindow: 2 * time.Second, AcceptanceWindow: 2 * time.Second, WinnerBonus: 10})

	session, err := coord.Prepare(ctx, app.SessionRequest{
		Mode: domain.ModeDuel, Category: "webdev", Difficulty: "easy", Rounds: 2,
		Initiator: "u1", Invitees: []string{"u2"}, ScopeID: "quiz",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	// u2 accepts; u1 answers every question correctly, u2 never answers.
	sub := hub.Subscribe("", func(m domain.Message) bool { return m.Bot })
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Messages() {
			switch {
			case strings.Contains(msg.Content, "type 'accept'"):
				_ = hub.Publish(ctx, domain.Message{ScopeID: msg.ScopeID, AuthorID: "u2", Content: "accept"})
			case strings.HasPrefix(msg.Content, "🧩"):
				_ = hub.Publish(ctx, domain.Message{ScopeID: msg.ScopeID, AuthorID: "u1", Content: "1"})
			}
		}
	}()

	res, err := coord.Run(ctx, session)
	sub.Cancel()
	<-done
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Winners) != 1 || res.Winners[0] != "u1" {
		t.Fatalf("expected u1 to win, got %+v", res)
	}

	var stored domain.ProgressRecord
	if err := docs.Load(ctx, app.CollectionProgress, "u1", &stored); err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if stored.Points != 2*7+10 || stored.CategoryPoints["webdev"] != 24 || stored.Streak != 1 {
		t.Fatalf("unexpected stored record %+v", stored)
	}

	top, err := ledger.Top(ctx, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) == 0 || top[0].UserID != "u1" || top[0].Record.Points != 24 {
		t.Fatalf("unexpected standings %+v", top)
	}

	archived, err := app.NewDocumentBank(docs).Questions(ctx, "webdev")
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected both generated questions archived, got %d", len(archived))
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "bot", "POSTGRES_PASSWORD": "botpass", "POSTGRES_DB": "noob2root"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://bot:botpass@%s:%s/noob2root?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDocuments(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
