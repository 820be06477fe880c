package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const serviceName = "storykit.v1.Backend"

// DefaultCallTimeout bounds each unary call when the caller's context has
// no deadline and was not marked with WithoutCallTimeout.
const DefaultCallTimeout = 30 * time.Second

// jsonCodec carries plain Go structs over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// Wire messages for calls whose arguments are not already a struct.
type (
	empty           struct{}
	uploadURLReply  struct{ URL string `json:"url"` }
	ackReply        struct{ OK bool `json:"ok"` }
	bookRequest     struct{ BookID string `json:"bookId"` }
	jobRequest      struct{ JobID string `json:"jobId"` }
	pageRequest     struct {
		BookID    string `json:"bookId"`
		PageIndex int    `json:"pageIndex"`
	}
)

// DialOptions returns the dial options GRPCClient connections need.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// ServerOptions returns the server options RegisterServer expects.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
}

// Dial opens a client connection to a backend at target.
func Dial(target string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, append(DialOptions(), extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial backend %s: %w", target, err)
	}
	return conn, nil
}

// GRPCClient implements Client over a gRPC connection. Uploads go to the
// pre-signed URL through the Uploader, not through gRPC.
type GRPCClient struct {
	conn     grpc.ClientConnInterface
	uploader Uploader
	timeout  time.Duration
}

// GRPCClientConfig configures a GRPCClient.
type GRPCClientConfig struct {
	// Conn is the backend connection (required).
	Conn grpc.ClientConnInterface

	// Uploader sends blobs to upload URLs (optional, HTTP by default).
	Uploader Uploader

	// CallTimeout bounds calls without a deadline.
	// Default: 30 seconds
	CallTimeout time.Duration
}

// NewGRPCClient creates a Client backed by conn.
func NewGRPCClient(cfg GRPCClientConfig) (*GRPCClient, error) {
	if cfg.Conn == nil {
		return nil, errors.New("conn is required")
	}
	uploader := cfg.Uploader
	if uploader == nil {
		uploader = NewHTTPUploader(nil, 0)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &GRPCClient{conn: cfg.Conn, uploader: uploader, timeout: timeout}, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, reply any) error {
	ctx, cancel := withCallTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, reply); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

// GenerateUploadURL asks the backend for a single-use upload URL.
func (c *GRPCClient) GenerateUploadURL(ctx context.Context) (string, error) {
	var reply uploadURLReply
	if err := c.invoke(ctx, "GenerateUploadURL", &empty{}, &reply); err != nil {
		return "", err
	}
	return reply.URL, nil
}

// Upload sends blob to url through the configured Uploader.
func (c *GRPCClient) Upload(ctx context.Context, url string, blob []byte, contentType string) (UploadResult, error) {
	return c.uploader.Upload(ctx, url, blob, contentType)
}

// AddClothesToComposite requests a composite wearing the given clothes.
func (c *GRPCClient) AddClothesToComposite(ctx context.Context, req ClothesRequest) (CompositeResult, error) {
	var reply CompositeResult
	err := c.invoke(ctx, "AddClothesToComposite", &req, &reply)
	return reply, err
}

// AddAccessoryToComposite requests a composite with the given accessory.
func (c *GRPCClient) AddAccessoryToComposite(ctx context.Context, req AccessoryRequest) (CompositeResult, error) {
	var reply CompositeResult
	err := c.invoke(ctx, "AddAccessoryToComposite", &req, &reply)
	return reply, err
}

// UnlockWardrobe notifies the backend that a wardrobe change landed.
func (c *GRPCClient) UnlockWardrobe(ctx context.Context) error {
	var reply ackReply
	return c.invoke(ctx, "UnlockWardrobe", &empty{}, &reply)
}

// GetBook fetches a book. Missing books map to ErrNotFound.
func (c *GRPCClient) GetBook(ctx context.Context, bookID string) (Book, error) {
	var reply Book
	err := c.invoke(ctx, "GetBook", &bookRequest{BookID: bookID}, &reply)
	return reply, err
}

// GetBookPage fetches one page of a book.
func (c *GRPCClient) GetBookPage(ctx context.Context, bookID string, pageIndex int) (Page, error) {
	var reply Page
	err := c.invoke(ctx, "GetBookPage", &pageRequest{BookID: bookID, PageIndex: pageIndex}, &reply)
	return reply, err
}

// SubmitStoryJob starts a story generation job.
func (c *GRPCClient) SubmitStoryJob(ctx context.Context, params StoryJobParams) (StoryJob, error) {
	var reply StoryJob
	err := c.invoke(ctx, "SubmitStoryJob", &params, &reply)
	return reply, err
}

// GetStoryJob fetches the current state of a story job.
func (c *GRPCClient) GetStoryJob(ctx context.Context, jobID string) (StoryJob, error) {
	var reply StoryJob
	err := c.invoke(ctx, "GetStoryJob", &jobRequest{JobID: jobID}, &reply)
	return reply, err
}

// RegisterServer exposes impl over s. The server must be built with
// ServerOptions so requests are decoded as JSON.
func RegisterServer(s grpc.ServiceRegistrar, impl Client) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Client)(nil),
	Methods: []grpc.MethodDesc{
		unary("GenerateUploadURL", func(ctx context.Context, c Client, _ *empty) (*uploadURLReply, error) {
			url, err := c.GenerateUploadURL(ctx)
			return &uploadURLReply{URL: url}, err
		}),
		unary("AddClothesToComposite", func(ctx context.Context, c Client, req *ClothesRequest) (*CompositeResult, error) {
			res, err := c.AddClothesToComposite(ctx, *req)
			return &res, err
		}),
		unary("AddAccessoryToComposite", func(ctx context.Context, c Client, req *AccessoryRequest) (*CompositeResult, error) {
			res, err := c.AddAccessoryToComposite(ctx, *req)
			return &res, err
		}),
		unary("UnlockWardrobe", func(ctx context.Context, c Client, _ *empty) (*ackReply, error) {
			if err := c.UnlockWardrobe(ctx); err != nil {
				return nil, err
			}
			return &ackReply{OK: true}, nil
		}),
		unary("GetBook", func(ctx context.Context, c Client, req *bookRequest) (*Book, error) {
			book, err := c.GetBook(ctx, req.BookID)
			return &book, err
		}),
		unary("GetBookPage", func(ctx context.Context, c Client, req *pageRequest) (*Page, error) {
			page, err := c.GetBookPage(ctx, req.BookID, req.PageIndex)
			return &page, err
		}),
		unary("SubmitStoryJob", func(ctx context.Context, c Client, req *StoryJobParams) (*StoryJob, error) {
			job, err := c.SubmitStoryJob(ctx, *req)
			return &job, err
		}),
		unary("GetStoryJob", func(ctx context.Context, c Client, req *jobRequest) (*StoryJob, error) {
			job, err := c.GetStoryJob(ctx, req.JobID)
			return &job, err
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storykit/v1/backend",
}

// unary builds a method descriptor that decodes Req, calls the handler and
// maps domain errors to gRPC status codes.
func unary[Req, Reply any](method string, handle func(context.Context, Client, *Req) (*Reply, error)) grpc.MethodDesc {
	call := func(ctx context.Context, srv any, req any) (any, error) {
		reply, err := handle(ctx, srv.(Client), req.(*Req))
		if err != nil {
			return nil, toStatus(err)
		}
		return reply, nil
	}

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, srv, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return call(ctx, srv, req)
			})
		},
	}
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if ok && st.Code() == codes.NotFound {
		return fmt.Errorf("%s: %s: %w", method, st.Message(), ErrNotFound)
	}
	return fmt.Errorf("%s: %w", method, err)
}
