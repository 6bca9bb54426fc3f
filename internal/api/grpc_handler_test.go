package api

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"inventory-analytics-service/internal/store"
)

const bufSize = 1024 * 1024

// startGRPC serves the analytics and health services over an in-memory
// listener and returns a connected client.
func startGRPC(t *testing.T, src store.Source) (*grpc.ClientConn, *health.Server) {
	t.Helper()
	svc := testService(src)
	hs := health.NewServer()
	srv := NewGRPCServer(NewGRPCHandler(svc), hs)

	lis := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	CheckStoreHealth(context.Background(), svc, hs)
	return conn, hs
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+AnalyticsServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPC_ListCategories(t *testing.T) {
	conn, _ := startGRPC(t, catalogSource())

	out, err := invoke(t, conn, "ListCategories", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, out.AsMap()["categories"])
}

func TestGRPC_ListProducts(t *testing.T) {
	conn, _ := startGRPC(t, catalogSource())

	out, err := invoke(t, conn, "ListProducts", map[string]any{"category": "B"})
	require.NoError(t, err)

	m := out.AsMap()
	assert.EqualValues(t, 1, m["count"])
	products, ok := m["products"].([]any)
	require.True(t, ok)
	require.Len(t, products, 1)
	p := products[0].(map[string]any)
	assert.Equal(t, "p2", p["product_id"])
	assert.Equal(t, "2.5", p["price"])
	assert.Equal(t, "1.25", p["reorder_multiplier"])
}

func TestGRPC_ListProducts_NonStringCategory(t *testing.T) {
	conn, _ := startGRPC(t, catalogSource())

	_, err := invoke(t, conn, "ListProducts", map[string]any{"category": 7})
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))
}

func TestGRPC_GetKPIs(t *testing.T) {
	conn, _ := startGRPC(t, catalogSource())

	out, err := invoke(t, conn, "GetKPIs", map[string]any{"start_date": "2024-01-01", "end_date": "2024-01-31"})
	require.NoError(t, err)

	m := out.AsMap()
	assert.EqualValues(t, 2, m["total_skus"])
	assert.EqualValues(t, 50, m["in_stock_percentage"])
	assert.EqualValues(t, 50, m["stockout_rate"])
	assert.Equal(t, "2024-01-01 to 2024-01-31", m["date_range"])
}

func TestGRPC_GetKPIs_InvalidDate(t *testing.T) {
	conn, _ := startGRPC(t, catalogSource())

	_, err := invoke(t, conn, "GetKPIs", map[string]any{"start_date": "2024/01/01"})
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))
}

func TestGRPC_StoreUnavailable(t *testing.T) {
	conn, _ := startGRPC(t, unavailableSource())

	_, err := invoke(t, conn, "ListCategories", nil)
	assert.Equal(t, codes.Unavailable, grpcstatus.Code(err))
}

func TestGRPC_HealthFollowsStore(t *testing.T) {
	testCases := []struct {
		name string
		src  store.Source
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{"connected", catalogSource(), healthpb.HealthCheckResponse_SERVING},
		{"disconnected", unavailableSource(), healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn, _ := startGRPC(t, tc.src)
			client := healthpb.NewHealthClient(conn)

			for _, service := range []string{"", AnalyticsServiceName} {
				resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
				require.NoError(t, err)
				assert.Equal(t, tc.want, resp.GetStatus())
			}
		})
	}
}
