// Package admin exposes the crawl schedulers of a running process over gRPC.
package admin

import (
	"context"
	"sort"

	"github.com/Ahmed-Sermani/fscrawler/crawler"
	crawlersvc "github.com/Ahmed-Sermani/fscrawler/service/crawler"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "fscrawler.admin.Admin"

// Job is implemented by crawl schedulers that can be driven remotely.
type Job interface {
	JobName() string
	TriggerCycle() bool
	Status() crawlersvc.Status
}

var _ Job = (*crawlersvc.Service)(nil)

// Server is the server API of the admin service.
type Server interface {
	// Trigger requests a cycle for the named job. The response is false if
	// a cycle is already running or pending.
	Trigger(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)

	// Status returns the scheduler state of the named job.
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)

	// Jobs lists the names of the jobs hosted by the server.
	Jobs(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Trigger",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				return unary(srv, ctx, in, "Trigger", interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).Trigger(ctx, req.(*wrapperspb.StringValue))
				})
			},
		},
		{
			MethodName: "Status",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				return unary(srv, ctx, in, "Status", interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).Status(ctx, req.(*wrapperspb.StringValue))
				})
			},
		},
		{
			MethodName: "Jobs",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(emptypb.Empty)
				if err := dec(in); err != nil {
					return nil, err
				}
				return unary(srv, ctx, in, "Jobs", interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).Jobs(ctx, req.(*emptypb.Empty))
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin.proto",
}

func unary(srv interface{}, ctx context.Context, in interface{}, method string, interceptor grpc.UnaryServerInterceptor, handler grpc.UnaryHandler) (interface{}, error) {
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer registers srv with the gRPC server s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var _ Server = (*AdminServer)(nil)

// AdminServer serves the admin API for a fixed set of jobs.
type AdminServer struct {
	jobs map[string]Job
}

// NewAdminServer creates a server for the provided jobs.
func NewAdminServer(jobs ...Job) *AdminServer {
	s := &AdminServer{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		s.jobs[j.JobName()] = j
	}
	return s
}

// Trigger implements Server.
func (s *AdminServer) Trigger(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	j, err := s.job(req.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(j.TriggerCycle()), nil
}

// Status implements Server.
func (s *AdminServer) Status(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	j, err := s.job(req.GetValue())
	if err != nil {
		return nil, err
	}
	res, err := structpb.NewStruct(statusToMap(j.Status()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return res, nil
}

// Jobs implements Server.
func (s *AdminServer) Jobs(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	names := make([]interface{}, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].(string) < names[j].(string) })
	res, err := structpb.NewList(names)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode job list: %v", err)
	}
	return res, nil
}

func (s *AdminServer) job(name string) (Job, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown job %q", name)
	}
	return j, nil
}

func statusToMap(st crawlersvc.Status) map[string]interface{} {
	m := map[string]interface{}{
		"name":   st.Name,
		"root":   st.Root,
		"state":  st.State.String(),
		"cycles": st.Cycles,
	}
	if st.LastError != nil {
		m["last_error"] = st.LastError.Error()
	}
	if st.LastSummary != nil {
		m["last_summary"] = summaryToMap(st.LastSummary)
	}
	return m
}

func summaryToMap(sum *crawler.Summary) map[string]interface{} {
	m := make(map[string]interface{})
	for k, v := range sum.Fields() {
		m[k] = v
	}
	m["root"] = sum.Root
	m["failures"] = len(sum.Failures)
	return m
}
