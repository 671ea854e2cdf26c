package admin

import (
	"context"

	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// JobStatus is the client-side view of a scheduler status.
type JobStatus struct {
	Name      string
	Root      string
	State     string
	Cycles    int
	LastError string

	// LastSummary holds the counters of the last finished cycle, if any.
	LastSummary map[string]interface{}
}

// AdminClient talks to an admin server exposed by a remote process.
type AdminClient struct {
	conn grpc.ClientConnInterface
}

// NewAdminClient returns a client that issues its calls over conn.
func NewAdminClient(conn grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{conn: conn}
}

// Trigger requests a cycle for the named job. It returns false if the job
// already has a cycle running or pending.
func (c *AdminClient) Trigger(ctx context.Context, job string) (bool, error) {
	res := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, method("Trigger"), wrapperspb.String(job), res); err != nil {
		return false, xerrors.Errorf("trigger %q: %w", job, err)
	}
	return res.GetValue(), nil
}

// Status returns the scheduler status of the named job.
func (c *AdminClient) Status(ctx context.Context, job string) (*JobStatus, error) {
	res := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method("Status"), wrapperspb.String(job), res); err != nil {
		return nil, xerrors.Errorf("status %q: %w", job, err)
	}
	fields := res.GetFields()
	st := &JobStatus{
		Name:      fields["name"].GetStringValue(),
		Root:      fields["root"].GetStringValue(),
		State:     fields["state"].GetStringValue(),
		Cycles:    int(fields["cycles"].GetNumberValue()),
		LastError: fields["last_error"].GetStringValue(),
	}
	if sum := fields["last_summary"].GetStructValue(); sum != nil {
		st.LastSummary = sum.AsMap()
	}
	return st, nil
}

// Jobs lists the jobs hosted by the remote process.
func (c *AdminClient) Jobs(ctx context.Context) ([]string, error) {
	res := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, method("Jobs"), new(emptypb.Empty), res); err != nil {
		return nil, xerrors.Errorf("list jobs: %w", err)
	}
	names := make([]string, 0, len(res.GetValues()))
	for _, v := range res.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}

func method(name string) string { return "/" + serviceName + "/" + name }
