package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// Client calls a remote Updater service
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a client on an established connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// GetVersion returns the version the server is running
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod("GetVersion"), &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// ListReleases lists the server's releases
func (c *Client) ListReleases(ctx context.Context) ([]models.ReleaseInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("ListReleases"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var resp struct {
		Releases []models.ReleaseInfo `json:"releases"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Releases, nil
}

// GetRelease returns one release; "latest" or empty asks for the latest
func (c *Client) GetRelease(ctx context.Context, tag string) (*models.ReleaseInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("GetRelease"), wrapperspb.String(tag), out); err != nil {
		return nil, err
	}
	var release models.ReleaseInfo
	if err := fromStruct(out, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

// IsCached reports whether the server has tag in its cache
func (c *Client) IsCached(ctx context.Context, tag string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, fullMethod("IsCached"), wrapperspb.String(tag), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// Download asks the server to cache tag and returns the resolved tag and path
func (c *Client) Download(ctx context.Context, tag string) (string, string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("Download"), wrapperspb.String(tag), out); err != nil {
		return "", "", err
	}
	var resp struct {
		Tag  string `json:"tag"`
		Path string `json:"path"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return "", "", err
	}
	return resp.Tag, resp.Path, nil
}

// Switch asks the server to replace itself
func (c *Client) Switch(ctx context.Context, req models.SwitchRequest) (*update.Result, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("Switch"), in, out); err != nil {
		return nil, err
	}
	var res update.Result
	if err := fromStruct(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status returns the server's most recent switch status, nil if none ran
func (c *Client) Status(ctx context.Context) (*models.UpdateStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("GetStatus"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	if len(out.GetFields()) == 0 {
		return nil, nil
	}
	var st models.UpdateStatus
	if err := fromStruct(out, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
