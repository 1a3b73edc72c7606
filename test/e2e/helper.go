package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/handlers"
	"github.com/asakaida/customattrs/internal/infrastructure/cache"
	"github.com/asakaida/customattrs/internal/infrastructure/config"
	"github.com/asakaida/customattrs/internal/infrastructure/database"
	"github.com/asakaida/customattrs/internal/repositories/postgres"
	"github.com/asakaida/customattrs/internal/services"
	"github.com/asakaida/customattrs/internal/services/validation"
	"github.com/asakaida/customattrs/pkg/cache/memorycache"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1024 * 1024

type ref = entities.OwnerRef

// E2ETestServer is one replica of the attribute service: its own type cache
// and watcher on a shared database
type E2ETestServer struct {
	Server   *grpc.Server
	Client   *handlers.AttributesClient
	Service  *services.AttributeService[ref]
	Conn     *grpc.ClientConn
	DB       *sql.DB
	Listener *bufconn.Listener
	watcher  *cache.TypeWatcher
}

// SetupE2ETest sets up an E2E test environment.
// It is skipped unless INTEGRATION is set.
func SetupE2ETest(t *testing.T) *E2ETestServer {
	t.Helper()

	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping E2E test. Set INTEGRATION=1 to run")
	}

	// Initialize config for test environment
	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Connect to test database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := pg.RunEmbeddedMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Clean up existing data
	cleanupDatabase(t, pg.DB)

	return startReplica(t, pg.DB, cfg)
}

// AddReplica starts another server on the same database
func (e *E2ETestServer) AddReplica(t *testing.T) *E2ETestServer {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	r := startReplica(t, e.DB, cfg)
	r.DB = nil // owned by e
	return r
}

func startReplica(t *testing.T, db *sql.DB, cfg *config.Config) *E2ETestServer {
	t.Helper()

	// Initialize repositories
	typeRepo := postgres.NewPostgresAttributeTypeRepository[ref](db, entities.ParseOwnerRef)
	attrRepo := postgres.NewPostgresInstanceAttributeRepository[ref](db)

	// Initialize services
	validator, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	svc := services.NewAttributeService[ref](typeRepo, attrRepo, validator, services.Options{})

	typeCache, err := memorycache.New(&memorycache.Config[[]*entities.AttributeType[ref]]{
		MaxSizeBytes: 1024 * 1024,
		DefaultTTL:   time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	svc.SetTypeCache(typeCache)

	watcher := cache.NewTypeWatcher(
		cfg.Database.ConnectionString(),
		cfg.Attributes.NotifyChannel,
		cache.InvalidatorFunc(svc.Invalidate),
		svc.InvalidateAll,
		nil,
	)
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	// Create in-memory gRPC server with bufconn
	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	handlers.RegisterAttributesServer(server, handlers.NewAttributeHandler(svc, nil))

	// Start server in background
	go func() {
		if err := server.Serve(listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	// Create client connection
	bufDialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}

	return &E2ETestServer{
		Server:   server,
		Client:   handlers.NewAttributesClient(conn),
		Service:  svc,
		Conn:     conn,
		DB:       db,
		Listener: listener,
		watcher:  watcher,
	}
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			t.Logf("warning: failed to stop watcher: %v", err)
		}
	}
	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
	if e.Listener != nil {
		e.Listener.Close()
	}
	if e.DB != nil {
		cleanupDatabase(t, e.DB)
		e.DB.Close()
	}
}

// cleanupDatabase removes all data from test database
func cleanupDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Delete in correct order due to foreign key constraints
	tables := []string{"instance_attributes", "attribute_types"}
	for _, table := range tables {
		query := fmt.Sprintf("DELETE FROM %s", table)
		if _, err := db.ExecContext(ctx, query); err != nil {
			t.Logf("warning: failed to clean up table %s: %v", table, err)
		}
	}
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return s
}

func listOf(resp *structpb.Struct, field string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range resp.Fields[field].GetListValue().GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}

// eventually polls cond until it holds or timeout passes
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}
