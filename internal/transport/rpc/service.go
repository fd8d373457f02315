package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

// #region service-desc

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "governance.Gateway"

// Method names.
const (
	MethodRegisterProtocol = "RegisterProtocol"
	MethodSubmitReport     = "SubmitReport"
	MethodSendMessage      = "SendMessage"
	MethodHealth           = "Health"
)

func fullMethod(m string) string {
	return "/" + ServiceName + "/" + m
}

// gatewayServer is the handler type the ServiceDesc is registered against.
type gatewayServer interface {
	call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(gatewayServer)
		if interceptor == nil {
			return s.call(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return s.call(ctx, method, req.(*structpb.Struct))
		})
	}
}

// serviceDesc describes governance.Gateway. Every method is unary and carries
// google.protobuf.Struct messages shaped like the HTTP JSON bodies.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*gatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodRegisterProtocol, Handler: unaryHandler(MethodRegisterProtocol)},
		{MethodName: MethodSubmitReport, Handler: unaryHandler(MethodSubmitReport)},
		{MethodName: MethodSendMessage, Handler: unaryHandler(MethodSendMessage)},
		{MethodName: MethodHealth, Handler: unaryHandler(MethodHealth)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "governance/gateway.proto",
}

// #endregion service-desc

// #region payloads

type registerPayload struct {
	AgentID  string              `json:"agent_id"`
	Protocol protocol.Descriptor `json:"protocol"`
}

type sendPayload struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Content  string        `json:"content"`
	Protocol *protocol.Ref `json:"protocol"`
}

type healthPayload struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// toStruct round-trips v through JSON into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return out, nil
}

// fromStruct decodes s into v through JSON.
func fromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// #endregion payloads

// #region server

// Server serves governance.Gateway from a gateway engine.
type Server struct {
	engine *gateway.Engine
}

// NewServer wraps engine.
func NewServer(engine *gateway.Engine) *Server {
	return &Server{engine: engine}
}

// Register attaches the service to a grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		d   gateway.Decision
		err error
	)
	switch method {
	case MethodRegisterProtocol:
		var p registerPayload
		if err := fromStruct(in, &p); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		d, err = s.engine.RegisterProtocol(ctx, p.AgentID, p.Protocol)
	case MethodSubmitReport:
		var r protocol.Report
		if err := fromStruct(in, &r); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		d, err = s.engine.SubmitReport(ctx, r)
	case MethodSendMessage:
		var p sendPayload
		if err := fromStruct(in, &p); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		d, err = s.engine.SendMessage(ctx, p.From, p.To, p.Content, p.Protocol)
	case MethodHealth:
		h := s.engine.Health()
		return toStruct(healthPayload{OK: h.OK, Message: h.Message})
	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := toStruct(transport.FromDecision(d))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// #endregion server
