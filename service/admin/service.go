// Package admin runs the gRPC admin endpoint next to the crawl schedulers.
package admin

import (
	"context"
	"io"
	"net"

	"github.com/Ahmed-Sermani/fscrawler/api/admin"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
)

// Config encapsulates the settings for configuring the admin service.
type Config struct {
	// The address to listen on, e.g. "127.0.0.1:7700".
	ListenAddr string

	// The jobs that can be inspected and triggered remotely.
	Jobs []admin.Job

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.ListenAddr == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if len(cfg.Jobs) == 0 {
		err = multierror.Append(err, xerrors.Errorf("no jobs provided"))
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Service serves the admin API until its context is cancelled.
type Service struct {
	cfg Config
}

// NewService creates a new admin service instance with the specified config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("admin service: config validation failed: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Name implements service.Service
func (svc *Service) Name() string { return "admin" }

// Run implements service.Service.
func (svc *Service) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", svc.cfg.ListenAddr)
	if err != nil {
		return xerrors.Errorf("admin service: %w", err)
	}
	return svc.serve(ctx, l)
}

func (svc *Service) serve(ctx context.Context, l net.Listener) error {
	srv := grpc.NewServer()
	admin.RegisterServer(srv, admin.NewAdminServer(svc.cfg.Jobs...))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		srv.GracefulStop()
	}()

	svc.cfg.Logger.WithField("addr", l.Addr().String()).Info("listening for admin requests")
	err := srv.Serve(l)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	return xerrors.Errorf("admin service: %w", err)
}
