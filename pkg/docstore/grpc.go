package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	serviceName  = "clusterdoc.docstore.DocumentStore"
	getMethod    = "/" + serviceName + "/Get"
	updateMethod = "/" + serviceName + "/Update"

	// CodecName is the gRPC content-subtype the document service speaks.
	CodecName = "json"
)

// jsonCodec lets the service exchange plain Go structs without generated
// protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type getRequest struct {
	ID string `json:"id"`
}

type getResponse struct {
	Source Source `json:"source"`
}

type updateRequest struct {
	ID     string `json:"id"`
	Fields Source `json:"fields"`
}

type updateResponse struct{}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Store)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Update", Handler: updateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docstore",
}

// RegisterService exposes store on s.
func RegisterService(s grpc.ServiceRegistrar, store Store) {
	s.RegisterService(&serviceDesc, store)
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(getRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		r := req.(*getRequest)
		if r.ID == "" {
			return nil, status.Error(codes.InvalidArgument, "document id cannot be empty")
		}
		doc, err := srv.(Store).Get(ctx, r.ID)
		if err != nil {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return &getResponse{Source: doc}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: getMethod}, handler)
}

func updateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(updateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		r := req.(*updateRequest)
		if r.ID == "" {
			return nil, status.Error(codes.InvalidArgument, "document id cannot be empty")
		}
		fields := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		if err := srv.(Store).Update(ctx, r.ID, fields); err != nil {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return &updateResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: updateMethod}, handler)
}

// Client is a Store backed by a remote document service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Get(ctx context.Context, id string) (Source, error) {
	out := new(getResponse)
	if err := c.conn.Invoke(ctx, getMethod, &getRequest{ID: id}, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, wrapRPCError("get", id, err)
	}
	if out.Source == nil {
		out.Source = make(Source)
	}
	return out.Source, nil
}

func (c *Client) Update(ctx context.Context, id string, fields map[string]any) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, id, err)
	}
	in := &updateRequest{ID: id, Fields: encoded}
	if err := c.conn.Invoke(ctx, updateMethod, in, new(updateResponse), grpc.CallContentSubtype(CodecName)); err != nil {
		return wrapRPCError("update", id, err)
	}
	return nil
}

func wrapRPCError(op, id string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %s", ErrUnavailable, op, id, status.Convert(err).Message())
}
