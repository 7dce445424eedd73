package server

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls the engine service with JSON params.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Call invokes method with positional params and decodes the reply into
// out. Use ParseError on the returned error to get the RPC code.
func (c *Client) Call(ctx context.Context, method string, params []any, out any, opts ...grpc.CallOption) error {
	if params == nil {
		params = []any{}
	}
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, params, out, opts...)
}
