package launch

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
)

// Inspector reads the launch context of the current process from the OS
type Inspector struct {
	suffix string

	exe     func(ctx context.Context) (string, error)
	cmdline func(ctx context.Context) ([]string, error)
	cwd     func(ctx context.Context) (string, error)
}

// NewInspector creates an inspector for the current process. suffix
// identifies artifact file names on the command line.
func NewInspector(suffix string) *Inspector {
	return &Inspector{
		suffix:  suffix,
		exe:     selfExe,
		cmdline: selfCmdline,
		cwd:     selfCwd,
	}
}

// CurrentContext snapshots the running process. The executable path is
// required; the command line and working directory fall back to what the
// Go runtime reports. A launch without a replaceable artifact is
// ErrContextUnavailable.
func (i *Inspector) CurrentContext(ctx context.Context) (Context, error) {
	exe, err := i.exe(ctx)
	if err != nil || exe == "" {
		return Context{}, fmt.Errorf("%w: executable path: %v", uerrors.ErrContextUnavailable, err)
	}

	argv, err := i.cmdline(ctx)
	if err != nil || len(argv) == 0 {
		argv = os.Args
	}

	cwd, err := i.cwd(ctx)
	if err != nil || cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return Context{}, fmt.Errorf("%w: working directory: %v", uerrors.ErrContextUnavailable, err)
		}
	}

	c := Parse(exe, argv, cwd, i.suffix)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func self(ctx context.Context) (*process.Process, error) {
	return process.NewProcessWithContext(ctx, int32(os.Getpid()))
}

func selfExe(ctx context.Context) (string, error) {
	if p, err := self(ctx); err == nil {
		if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
			return exe, nil
		}
	}
	return os.Executable()
}

func selfCmdline(ctx context.Context) ([]string, error) {
	p, err := self(ctx)
	if err != nil {
		return nil, err
	}
	return p.CmdlineSliceWithContext(ctx)
}

func selfCwd(ctx context.Context) (string, error) {
	p, err := self(ctx)
	if err != nil {
		return "", err
	}
	return p.CwdWithContext(ctx)
}
