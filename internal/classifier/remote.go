package classifier

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

const (
	serviceName   = "sshspectra.v1.MacCategoryService"
	predictMethod = "/" + serviceName + "/Predict"
)

// Remote asks a MAC category service over gRPC. Requests and responses are
// structpb.Struct messages: {"vectors": [[...], ...]} and
// {"categories": ["...", ...]}.
type Remote struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a client for the service at cfg.Addr. The connection is
// established lazily on the first call.
func Dial(cfg config.GRPCClassifierConfig, opts ...grpc.DialOption) (*Remote, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create client for %s", cfg.Addr)
	}
	return &Remote{conn: conn, timeout: cfg.Timeout}, nil
}

// Predict implements model.MacClassifier.
func (r *Remote) Predict(ctx context.Context, vectors []model.FeatureVector) ([]string, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	req, err := encodeVectors(vectors)
	if err != nil {
		return nil, err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		return nil, errors.Wrap(err, "predict call failed")
	}
	labels, err := decodeCategories(resp)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(vectors) {
		return nil, errors.Errorf("service returned %d categories for %d vectors", len(labels), len(vectors))
	}
	return labels, nil
}

// Close closes the client connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

func encodeVectors(vectors []model.FeatureVector) (*structpb.Struct, error) {
	rows := make([]any, len(vectors))
	for i, v := range vectors {
		values := v.Values()
		row := make([]any, len(values))
		for j, x := range values {
			row[j] = x
		}
		rows[i] = row
	}
	req, err := structpb.NewStruct(map[string]any{"vectors": rows})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode feature vectors")
	}
	return req, nil
}

func decodeVectors(req *structpb.Struct) ([]model.FeatureVector, error) {
	rows := req.GetFields()["vectors"].GetListValue()
	if rows == nil {
		return nil, errors.New("request has no vectors list")
	}
	out := make([]model.FeatureVector, len(rows.GetValues()))
	for i, row := range rows.GetValues() {
		list := row.GetListValue()
		if list == nil {
			return nil, errors.Errorf("vector %d is not a list", i)
		}
		values := make([]float64, len(list.GetValues()))
		for j, x := range list.GetValues() {
			if _, ok := x.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, errors.Errorf("vector %d value %d is not a number", i, j)
			}
			values[j] = x.GetNumberValue()
		}
		v, err := model.FeatureVectorFromValues(values)
		if err != nil {
			return nil, errors.Wrapf(err, "vector %d", i)
		}
		out[i] = v
	}
	return out, nil
}

func encodeCategories(labels []string) (*structpb.Struct, error) {
	values := make([]any, len(labels))
	for i, l := range labels {
		values[i] = l
	}
	return structpb.NewStruct(map[string]any{"categories": values})
}

func decodeCategories(resp *structpb.Struct) ([]string, error) {
	list := resp.GetFields()["categories"].GetListValue()
	if list == nil {
		return nil, errors.New("response has no categories list")
	}
	out := make([]string, len(list.GetValues()))
	for i, v := range list.GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
			return nil, errors.Errorf("category %d is not a string", i)
		}
		out[i] = v.GetStringValue()
	}
	return out, nil
}

// predictServer is the handler type of the service description.
type predictServer interface {
	predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Server exposes a local classifier as a MAC category service.
type Server struct {
	clf model.MacClassifier
}

// RegisterServer registers clf with s under the MAC category service name.
func RegisterServer(s grpc.ServiceRegistrar, clf model.MacClassifier) {
	s.RegisterService(&serviceDesc, &Server{clf: clf})
}

func (s *Server) predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	vectors, err := decodeVectors(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	labels, err := s.clf.Predict(ctx, vectors)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "prediction failed: %v", err)
	}
	resp, err := encodeCategories(labels)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode categories: %v", err)
	}
	return resp, nil
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(predictServer).predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(predictServer).predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*predictServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sshspectra/v1/mac_category.proto",
}
