package api

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"inventory-analytics-service/internal/analytics"
	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/metrics"
	"inventory-analytics-service/internal/store"
)

// AnalyticsServiceName is the fully qualified gRPC service name.
const AnalyticsServiceName = "inventoryanalytics.v1.Analytics"

// AnalyticsServer is the gRPC surface of the analytics service. Requests and
// responses are google.protobuf.Struct documents shaped like the HTTP JSON.
type AnalyticsServer interface {
	GetKPIs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCategories(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProducts(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// AnalyticsServiceDesc describes the service for grpc.Server.RegisterService.
var AnalyticsServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalyticsServiceName,
	HandlerType: (*AnalyticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetKPIs", Handler: unaryHandler("GetKPIs", AnalyticsServer.GetKPIs)},
		{MethodName: "ListCategories", Handler: unaryHandler("ListCategories", AnalyticsServer.ListCategories)},
		{MethodName: "ListProducts", Handler: unaryHandler("ListProducts", AnalyticsServer.ListProducts)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventoryanalytics/v1/analytics.proto",
}

// RegisterAnalyticsServer registers srv on s.
func RegisterAnalyticsServer(s grpc.ServiceRegistrar, srv AnalyticsServer) {
	s.RegisterService(&AnalyticsServiceDesc, srv)
}

type structMethod func(AnalyticsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalyticsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + AnalyticsServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnalyticsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements AnalyticsServer on top of analytics.Service.
type GRPCHandler struct {
	svc *analytics.Service
}

// NewGRPCHandler creates a new GRPCHandler.
func NewGRPCHandler(svc *analytics.Service) *GRPCHandler {
	return &GRPCHandler{svc: svc}
}

// --- Helper: Error Mapping ---
func mapServiceErrorToGrpcStatus(err error, method string) error {
	if err == nil {
		return nil
	}
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return grpcstatus.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, store.ErrUnavailable):
		logging.Error().Err(err).Str("method", method).Msg("Store unavailable")
		return grpcstatus.Errorf(codes.Unavailable, "database unavailable")
	default:
		logging.Error().Err(err).Str("method", method).Msg("gRPC request failed")
		return grpcstatus.Errorf(codes.Internal, "failed to process %s request", method)
	}
}

// stringField reads an optional string field; other value kinds are rejected.
func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", domain.NewValidationError(name, "must be a string")
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// --- Analytics gRPC Methods Implementation ---

func (g *GRPCHandler) GetKPIs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var fields [3]string
	for i, name := range []string{"start_date", "end_date", "category"} {
		v, err := stringField(req, name)
		if err != nil {
			return nil, mapServiceErrorToGrpcStatus(err, "GetKPIs")
		}
		fields[i] = v
	}
	q, err := g.svc.ParseKPIQuery(fields[0], fields[1], fields[2])
	if err != nil {
		return nil, mapServiceErrorToGrpcStatus(err, "GetKPIs")
	}
	s, err := g.svc.KPIs(ctx, q)
	if err != nil {
		return nil, mapServiceErrorToGrpcStatus(err, "GetKPIs")
	}
	return toStruct(map[string]any{
		"total_skus":          s.TotalSKUs,
		"in_stock_percentage": s.InStockPercentage.InexactFloat64(),
		"fill_rate":           s.FillRate.InexactFloat64(),
		"stockout_rate":       s.StockoutRate.InexactFloat64(),
		"stockout_days":       s.StockoutDays,
		"reorder_alert_days":  s.ReorderAlertDays,
		"row_count":           s.RowCount,
		"total_demand":        s.TotalDemand,
		"date_range":          s.DateRange,
	})
}

func (g *GRPCHandler) ListCategories(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	categories, err := g.svc.Categories(ctx)
	if err != nil {
		return nil, mapServiceErrorToGrpcStatus(err, "ListCategories")
	}
	list := make([]any, 0, len(categories))
	for _, c := range categories {
		list = append(list, c)
	}
	return toStruct(map[string]any{"categories": list})
}

// ListProducts returns prices as decimal strings so they survive the
// float64 number representation of Struct.
func (g *GRPCHandler) ListProducts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	category, err := stringField(req, "category")
	if err != nil {
		return nil, mapServiceErrorToGrpcStatus(err, "ListProducts")
	}
	var filter *string
	if category != "" {
		filter = &category
	}
	products, err := g.svc.Products(ctx, filter)
	if err != nil {
		return nil, mapServiceErrorToGrpcStatus(err, "ListProducts")
	}

	list := make([]any, 0, len(products))
	for _, p := range products {
		var multiplier any
		if p.ReorderMultiplier.Valid {
			multiplier = p.ReorderMultiplier.Decimal.String()
		}
		list = append(list, map[string]any{
			"product_id":         p.ID,
			"category":           p.Category,
			"price":              p.Price.String(),
			"uom":                p.UOM,
			"lead_time_days":     p.LeadTimeDays,
			"safety_stock":       p.SafetyStock,
			"reorder_multiplier": multiplier,
		})
	}
	return toStruct(map[string]any{"products": list, "count": len(list)})
}

// --- Server Setup ---

// NewGRPCServer registers the analytics service, the standard health service
// and reflection on a new server.
func NewGRPCServer(h *GRPCHandler, hs *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(LoggingInterceptor)}, opts...)
	s := grpc.NewServer(opts...)

	RegisterAnalyticsServer(s, h)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s
}

// LoggingInterceptor logs one line per unary call with its status code.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	event := logging.Info()
	if err != nil {
		event = logging.Warn()
	}
	event.Str("method", info.FullMethod).
		Str("code", grpcstatus.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC request")
	return resp, err
}

// CheckStoreHealth runs one health check and publishes the result to the gRPC
// health service and the analytics_store_up gauge. It reports whether the
// store is healthy.
func CheckStoreHealth(ctx context.Context, svc *analytics.Service, hs *health.Server) bool {
	report := svc.Health(ctx)
	servingStatus := healthpb.HealthCheckResponse_SERVING
	up := 1.0
	if !report.Healthy {
		servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		up = 0
		logging.Warn().Str("error", report.Error).Msg("Store health check failed")
	}
	hs.SetServingStatus("", servingStatus)
	hs.SetServingStatus(AnalyticsServiceName, servingStatus)
	metrics.StoreUp.Set(up)
	return report.Healthy
}

// WatchStoreHealth checks the store every interval until ctx is done.
func WatchStoreHealth(ctx context.Context, svc *analytics.Service, hs *health.Server, interval time.Duration) {
	CheckStoreHealth(ctx, svc, hs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CheckStoreHealth(ctx, svc, hs)
		}
	}
}
