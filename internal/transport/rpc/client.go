package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

// #region client-struct

// Client is a transport.Client over gRPC.
type Client struct {
	conn grpc.ClientConnInterface
	// closer is nil when the connection was injected.
	closer func() error
}

// #endregion client-struct

// #region constructor

// Dial connects to a gateway at addr.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClientWithConn uses an existing connection. Close does not close it.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close shuts down a connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// #endregion constructor

// #region calls

// RegisterProtocol implements transport.Client.
func (c *Client) RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (transport.Result, error) {
	return c.invoke(ctx, "register", MethodRegisterProtocol, registerPayload{AgentID: agentID, Protocol: desc})
}

// SubmitReport implements transport.Client.
func (c *Client) SubmitReport(ctx context.Context, r protocol.Report) (transport.Result, error) {
	return c.invoke(ctx, "report", MethodSubmitReport, r)
}

// SendMessage implements transport.Client.
func (c *Client) SendMessage(ctx context.Context, agentID, to, content string, ref *protocol.Ref) (transport.Result, error) {
	return c.invoke(ctx, "send", MethodSendMessage, sendPayload{From: agentID, To: to, Content: content, Protocol: ref})
}

// Health calls the Health method.
func (c *Client) Health(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(MethodHealth), &structpb.Struct{}, out); err != nil {
		return "", mapError("health", err)
	}
	var h healthPayload
	if err := fromStruct(out, &h); err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	return h.Message, nil
}

func (c *Client) invoke(ctx context.Context, op, method string, payload any) (transport.Result, error) {
	in, err := toStruct(payload)
	if err != nil {
		return transport.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return transport.Result{}, mapError(op, err)
	}
	var res transport.Result
	if err := fromStruct(out, &res); err != nil {
		return transport.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// mapError marks retryable status codes as transient.
func mapError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted, codes.Internal:
		return transport.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// #endregion calls
