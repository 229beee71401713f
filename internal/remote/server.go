package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region service-desc
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Likelihood)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodName, Handler: logLikelihoodHandler},
	},
	Metadata: "mcmc/v1/likelihood.proto",
}

// Register installs l on s.
func Register(s grpc.ServiceRegistrar, l Likelihood) {
	s.RegisterService(&serviceDesc, l)
}

func logLikelihoodHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		values, err := decodeValues(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		v, err := srv.(Likelihood).LogLikelihood(ctx, values)
		if err != nil {
			if _, ok := status.FromError(err); ok {
				return nil, err
			}
			return nil, status.Error(codes.Internal, err.Error())
		}
		return wrapperspb.Double(v), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	return interceptor(ctx, in, info, call)
}

// #endregion service-desc

// #region encoding
// encodeValues lays node values out as a struct of number lists.
func encodeValues(values map[string][]float64) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(values))
	for id, vs := range values {
		list := make([]*structpb.Value, len(vs))
		for i, v := range vs {
			list[i] = structpb.NewNumberValue(v)
		}
		fields[id] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	return &structpb.Struct{Fields: fields}
}

func decodeValues(s *structpb.Struct) (map[string][]float64, error) {
	out := make(map[string][]float64, len(s.GetFields()))
	for id, f := range s.GetFields() {
		list := f.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("node %s: expected a list of numbers", id)
		}
		vs := make([]float64, len(list.GetValues()))
		for i, v := range list.GetValues() {
			n, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("node %s[%d]: not a number", id, i)
			}
			vs[i] = n.NumberValue
		}
		out[id] = vs
	}
	return out, nil
}

// #endregion encoding
