package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// Server implements the Updater gRPC service
type Server struct {
	updater update.Service
	log     *log.Logger
}

var _ UpdaterServer = (*Server)(nil)

// NewServer creates a new gRPC server
func NewServer(updater update.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		updater: updater,
		log:     logger.WithPrefix("grpc"),
	}
}

// GetVersion returns the running version
func (s *Server) GetVersion(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.updater.CurrentVersion()), nil
}

// ListReleases returns all releases, newest first
func (s *Server) ListReleases(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	releases, err := s.updater.ListReleases(ctx)
	if err != nil {
		return nil, s.toStatus("ListReleases", err)
	}
	if releases == nil {
		releases = []models.ReleaseInfo{}
	}
	return toStruct(map[string]interface{}{
		"current":  s.updater.CurrentVersion(),
		"releases": releases,
		"count":    len(releases),
	})
}

// GetRelease returns one release; an empty tag or "latest" means the latest
func (s *Server) GetRelease(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	var (
		release *models.ReleaseInfo
		err     error
	)
	if tag := req.GetValue(); tag == "" || tag == "latest" {
		release, err = s.updater.GetLatestRelease(ctx)
	} else {
		release, err = s.updater.GetRelease(ctx, tag)
	}
	if err != nil {
		return nil, s.toStatus("GetRelease", err)
	}
	return toStruct(release)
}

// IsCached reports whether a tag is in the local cache
func (s *Server) IsCached(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.updater.IsCachedLocally(req.GetValue())), nil
}

// Download caches a tag; an empty tag or "latest" means the latest release
func (s *Server) Download(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	tag := req.GetValue()
	var path string
	var err error
	if tag == "" || tag == "latest" {
		res := <-s.updater.DownloadLatest(ctx)
		tag, path, err = res.Tag, res.Path, res.Err
	} else {
		path, err = s.updater.DownloadToCache(ctx, tag)
	}
	if err != nil {
		return nil, s.toStatus("Download", err)
	}
	return toStruct(map[string]interface{}{"tag": tag, "path": path})
}

// Switch replaces the running process. The request carries a SwitchRequest.
func (s *Server) Switch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var sr models.SwitchRequest
	if err := fromStruct(req, &sr); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid switch request: %v", err)
	}

	res, err := update.Switch(ctx, s.updater, sr)
	if err != nil {
		return nil, s.toStatus("Switch", err)
	}
	return toStruct(res)
}

// GetStatus returns the status of the most recent switch
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.updater.Status()
	if st == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	return toStruct(st)
}

// toStatus maps updater errors onto gRPC codes
func (s *Server) toStatus(method string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, uerrors.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, uerrors.ErrReleaseNotFound):
		code = codes.NotFound
	case errors.Is(err, uerrors.ErrInvalidTag):
		code = codes.InvalidArgument
	case errors.Is(err, uerrors.ErrSwitchInProgress):
		code = codes.Aborted
	case errors.Is(err, uerrors.ErrRegistryUnavailable),
		errors.Is(err, uerrors.ErrDownloadFailed),
		errors.Is(err, uerrors.ErrChecksumMismatch):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	s.log.Error("RPC failed", "method", method, "code", code, "err", err)
	return status.Error(code, err.Error())
}

// toStruct converts v to a Struct through its JSON form
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into out through its JSON form
func fromStruct(s *structpb.Struct, out interface{}) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to decode struct: %w", err)
	}
	return json.Unmarshal(data, out)
}
