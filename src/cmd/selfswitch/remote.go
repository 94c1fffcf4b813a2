package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcserver "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/grpc"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

const remoteTimeout = 10 * time.Second

// dial connects to a running instance; replaced in tests
var dial = func(addr string) (*grpcserver.Client, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return grpcserver.NewClient(conn), conn, nil
}

// withClient runs fn against the instance named by --server
func withClient(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, c *grpcserver.Client) error) error {
	client, conn, err := dial(flagServer)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, client)
}

func newRemoteCmds() []*cobra.Command {
	return []*cobra.Command{
		newReleasesCmd(),
		newLatestCmd(),
		newCachedCmd(),
		newDownloadCmd(),
		newSwitchCmd(),
		newStatusCmd(),
	}
}

func newReleasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "releases",
		Short: "List releases known to a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, remoteTimeout, func(ctx context.Context, c *grpcserver.Client) error {
				current, err := c.GetVersion(ctx)
				if err != nil {
					return err
				}
				releases, err := c.ListReleases(ctx)
				if err != nil {
					return err
				}
				printReleases(cmd.OutOrStdout(), current, releases)
				return nil
			})
		},
	}
}

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, remoteTimeout, func(ctx context.Context, c *grpcserver.Client) error {
				current, err := c.GetVersion(ctx)
				if err != nil {
					return err
				}
				release, err := c.GetRelease(ctx, "latest")
				if err != nil {
					return err
				}
				printReleases(cmd.OutOrStdout(), current, []models.ReleaseInfo{*release})
				return nil
			})
		},
	}
}

func newCachedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cached <version>",
		Short: "Report whether a version is in the local artifact cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, remoteTimeout, func(ctx context.Context, c *grpcserver.Client) error {
				ok, err := c.IsCached(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s cached: %v\n", args[0], ok)
				return nil
			})
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "download [version]",
		Short: "Download a release into the cache (latest when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := "latest"
			if len(args) == 1 {
				tag = args[0]
			}
			return withClient(cmd, timeout, func(ctx context.Context, c *grpcserver.Client) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Downloading %s...\n", tag)
				resolved, path, err := c.Download(ctx, tag)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cached %s at %s\n", resolved, path)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "how long to wait for the download")
	return cmd
}

func newSwitchCmd() *cobra.Command {
	var (
		downloadFirst bool
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "switch [version]",
		Short: "Switch a running instance to another version (latest when omitted)",
		Long: `Switch replaces the running instance with the given version. The instance
backs up its artifact, shuts down and relaunches itself on the new artifact.

Without --download the version must already be in the instance's cache.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.SwitchRequest{Download: downloadFirst}
			if len(args) == 1 {
				req.Version = args[0]
			}
			return withClient(cmd, timeout, func(ctx context.Context, c *grpcserver.Client) error {
				res, err := c.Switch(ctx, req)
				if err != nil {
					return err
				}
				printSwitchResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&downloadFirst, "download", "d", false, "download the version if it is not cached")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "how long to wait for the switch to be scheduled")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running version and the last switch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, remoteTimeout, func(ctx context.Context, c *grpcserver.Client) error {
				current, err := c.GetVersion(ctx)
				if err != nil {
					return err
				}
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Version: %s\n", current)
				if st == nil {
					fmt.Fprintln(out, "No switch has run")
					return nil
				}
				fmt.Fprintf(out, "Operation: %s\n", st.OperationID)
				fmt.Fprintf(out, "Target: %s\n", st.Target)
				fmt.Fprintf(out, "Stage: %s\n", st.Stage)
				if st.Message != "" {
					fmt.Fprintf(out, "Message: %s\n", st.Message)
				}
				if st.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", st.Error)
				}
				return nil
			})
		},
	}
}

func printReleases(out io.Writer, current string, releases []models.ReleaseInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tPUBLISHED\tARTIFACT\tCACHED\t")
	for _, r := range releases {
		tag := r.Tag
		if tag == current {
			tag += " *"
		}
		published := "-"
		if !r.PublishedAt.IsZero() {
			published = r.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t\n", tag, published, r.ArtifactName, r.CachedLocally)
	}
	w.Flush()
}

func printSwitchResult(out io.Writer, res *update.Result) {
	switch res.Outcome {
	case update.OutcomeNoOp:
		fmt.Fprintf(out, "Already running %s, nothing to do\n", res.Target)
	default:
		fmt.Fprintf(out, "Switching to %s (operation %s)\n", res.Target, res.OperationID)
		if len(res.Command) > 0 {
			fmt.Fprintf(out, "Relaunch: %v\n", res.Command)
		}
	}
}
