package catalog

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	_ "github.com/vladislavdragonenkov/orders/internal/rpc" // JSON-кодек для входящих вызовов
)

// ProductServiceServer — серверная сторона каталога.
type ProductServiceServer interface {
	ValidateProducts(ctx context.Context, req *ValidateProductsRequest) (*ValidateProductsResponse, error)
}

// ServiceDesc описывает сервис каталога для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProductServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ValidateProducts",
			Handler:    validateProductsHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterProductServiceServer регистрирует реализацию каталога.
func RegisterProductServiceServer(s grpc.ServiceRegistrar, srv ProductServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func validateProductsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ValidateProductsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProductServiceServer).ValidateProducts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodValidateProducts,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProductServiceServer).ValidateProducts(ctx, req.(*ValidateProductsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server отдаёт по gRPC любой domain.CatalogClient, например Static.
type Server struct {
	source domain.CatalogClient
}

// NewServer создаёт gRPC-обёртку над источником товаров.
func NewServer(source domain.CatalogClient) *Server {
	return &Server{source: source}
}

// ValidateProducts возвращает найденные товары, отсутствующие просто не попадают в ответ.
func (s *Server) ValidateProducts(ctx context.Context, req *ValidateProductsRequest) (*ValidateProductsResponse, error) {
	products, err := s.source.ValidateProducts(ctx, req.IDs)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	resp := &ValidateProductsResponse{Products: make([]Product, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, Product{ID: p.ID, Name: p.Name, Price: p.Price})
	}
	return resp, nil
}

var _ ProductServiceServer = (*Server)(nil)
