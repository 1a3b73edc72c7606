package handlers

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/infrastructure/metrics"
	"github.com/asakaida/customattrs/internal/repositories/memory"
	"github.com/asakaida/customattrs/internal/services"
	"github.com/asakaida/customattrs/internal/services/validation"
)

// newMemoryService builds an AttributeService over in-memory repositories
func newMemoryService(t *testing.T, policy entities.OwnerPolicy) *services.AttributeService[entities.OwnerRef] {
	t.Helper()
	v, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	types, attrs := memory.New[entities.OwnerRef]()
	return services.NewAttributeService[entities.OwnerRef](types, attrs, v, services.Options{OwnerPolicy: policy})
}

// startServer serves h over an in-memory listener and returns a client.
// The collector records every call through the metrics interceptor.
func startServer(t *testing.T, h AttributesServer) (*AttributesClient, *metrics.Collector) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	collector := metrics.NewCollector()
	srv := grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, nil)))
	RegisterAttributesServer(srv, h)

	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})

	return NewAttributesClient(conn), collector
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return s
}

// Mock AttributeService
type mockAttributeService struct {
	services.AttributeServiceInterface[entities.OwnerRef]

	attributeTypesFunc func(ctx context.Context, owner entities.OwnerRef) ([]*entities.AttributeType[entities.OwnerRef], error)
	loadFunc           func(ctx context.Context, owner entities.OwnerRef, entityType, entityID string) (*entities.Customizable[entities.OwnerRef, *entities.InstanceAttribute[entities.OwnerRef]], error)
}

func (m *mockAttributeService) AttributeTypes(ctx context.Context, owner entities.OwnerRef) ([]*entities.AttributeType[entities.OwnerRef], error) {
	if m.attributeTypesFunc != nil {
		return m.attributeTypesFunc(ctx, owner)
	}
	return nil, nil
}

func (m *mockAttributeService) Load(ctx context.Context, owner entities.OwnerRef, entityType, entityID string) (*entities.Customizable[entities.OwnerRef, *entities.InstanceAttribute[entities.OwnerRef]], error) {
	if m.loadFunc != nil {
		return m.loadFunc(ctx, owner, entityType, entityID)
	}
	return entities.NewCustomizable[entities.OwnerRef, *entities.InstanceAttribute[entities.OwnerRef]](owner), nil
}
