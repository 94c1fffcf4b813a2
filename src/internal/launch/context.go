// Package launch captures how the running process was started and rebuilds
// an equivalent command line for a different artifact.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
)

// Flags that take a class or module path as their next argument
var classPathFlags = map[string]bool{
	"-cp":           true,
	"-classpath":    true,
	"--class-path":  true,
	"-p":            true,
	"--module-path": true,
}

// Flags that mark the next argument as the artifact to run
var artifactFlags = map[string]bool{
	"-jar":  true,
	"--jar": true,
}

// Context is a snapshot of the current process launch
type Context struct {
	// Executable is the absolute path of the running binary. For a hosted
	// artifact this is the runtime (e.g. java), otherwise the artifact itself.
	Executable string

	// RuntimeArgs are the arguments between the runtime and the artifact,
	// in original order. The class path flag and its value are included.
	RuntimeArgs []string

	ClassPathFlag string
	ClassPath     string

	// ArtifactFlag is the flag preceding the artifact (e.g. -jar), if any
	ArtifactFlag string

	// Artifact is the artifact argument exactly as it was passed
	Artifact string

	// Invocation is the raw command line from the artifact onward
	Invocation string

	ProgramArgs []string
	WorkDir     string

	// Native is true when the executable is the artifact itself
	Native bool
}

// Parse derives a Context from the executable path, the raw argument vector
// (argv[0] included) and the working directory. suffix identifies artifact
// file names.
//
// The artifact is the argument after -jar, or else the first positional
// argument ending in suffix. A launch with neither is native only when the
// executable itself was invoked (argv[0] names it) and no argument refers to
// an artifact; anything else, such as a class path launch, yields a Context
// whose Validate reports ErrContextUnavailable.
func Parse(exe string, argv []string, workDir, suffix string) Context {
	if len(argv) == 0 {
		argv = []string{exe}
	}

	c := Context{
		Executable: exe,
		WorkDir:    workDir,
	}

	if suffix != "" && strings.HasSuffix(filepath.Base(exe), suffix) {
		return native(c, argv)
	}

	flagIdx, artifactIdx := findArtifact(argv, suffix)
	if artifactIdx < 0 {
		if flagIdx >= 0 || mentions(argv[1:], suffix) || !sameFile(exe, argv[0], workDir) {
			c.Invocation = strings.Join(argv, " ")
			return c
		}
		return native(c, argv)
	}

	runtimeEnd := artifactIdx
	if flagIdx >= 0 {
		c.ArtifactFlag = argv[flagIdx]
		runtimeEnd = flagIdx
	}
	c.RuntimeArgs = append([]string(nil), argv[1:runtimeEnd]...)
	for i := 0; i+1 < len(c.RuntimeArgs); i++ {
		if classPathFlags[c.RuntimeArgs[i]] {
			c.ClassPathFlag = c.RuntimeArgs[i]
			c.ClassPath = c.RuntimeArgs[i+1]
			break
		}
	}

	c.Artifact = argv[artifactIdx]
	c.ProgramArgs = append([]string(nil), argv[artifactIdx+1:]...)
	c.Invocation = strings.Join(argv[artifactIdx:], " ")
	return c
}

func native(c Context, argv []string) Context {
	c.Native = true
	c.Artifact = argv[0]
	c.ProgramArgs = append([]string(nil), argv[1:]...)
	c.Invocation = strings.Join(argv, " ")
	return c
}

// findArtifact returns the index of the artifact flag (-1 if none) and of the
// artifact argument (-1 if none, or if the flag is the last argument).
// Runtime flags are never the artifact, even when they mention one
// (-javaagent:/opt/agent.jar).
func findArtifact(argv []string, suffix string) (int, int) {
	for i := 1; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case artifactFlags[arg]:
			if i+1 < len(argv) {
				return i, i + 1
			}
			return i, -1
		case classPathFlags[arg]:
			i++
		case strings.HasPrefix(arg, "-"):
		case suffix != "" && strings.HasSuffix(arg, suffix):
			return -1, i
		default:
			// First positional argument is a main class or a program argument
			return -1, -1
		}
	}
	return -1, -1
}

func mentions(args []string, suffix string) bool {
	if suffix == "" {
		return false
	}
	for _, arg := range args {
		if strings.Contains(arg, suffix) {
			return true
		}
	}
	return false
}

// sameFile reports whether argv0 names the executable
func sameFile(exe, argv0, workDir string) bool {
	if argv0 == exe {
		return true
	}
	base := func(p string) string {
		b := filepath.Base(p)
		if runtime.GOOS == "windows" {
			b = strings.TrimSuffix(strings.ToLower(b), ".exe")
		}
		return b
	}
	if base(exe) == base(argv0) {
		return true
	}
	if !filepath.IsAbs(argv0) {
		argv0 = filepath.Join(workDir, argv0)
	}
	a, err := os.Stat(exe)
	if err != nil {
		return false
	}
	b, err := os.Stat(argv0)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

// Validate reports ErrContextUnavailable when the launch has no artifact that
// can be swapped, e.g. a runtime started with a class path and a main class.
func (c Context) Validate() error {
	if c.Native || c.Artifact != "" {
		return nil
	}
	return fmt.Errorf("%w: no artifact in command line %q", uerrors.ErrContextUnavailable, c.Invocation)
}

// BuildRelaunchCommand returns the command line that starts newArtifact the
// same way the current process was started from currentArtifact.
//
// currentArtifact is usually an absolute path while the process may have been
// started with a relative one, so the as-invoked form is recovered from the
// raw invocation: everything up to and including the artifact's file name.
// That form is replaced by newArtifact inside the class path.
func BuildRelaunchCommand(c Context, currentArtifact, newArtifact string) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	name := filepath.Base(currentArtifact)
	if currentArtifact == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: no current artifact", uerrors.ErrContextUnavailable)
	}

	idx := strings.Index(c.Invocation, name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s not found in command line %q", uerrors.ErrContextUnavailable, name, c.Invocation)
	}
	original := c.Invocation[:idx+len(name)]

	if c.Native {
		return append([]string{newArtifact}, c.ProgramArgs...), nil
	}

	cmd := make([]string, 0, len(c.RuntimeArgs)+len(c.ProgramArgs)+3)
	cmd = append(cmd, c.Executable)
	for i, arg := range c.RuntimeArgs {
		if i > 0 && classPathFlags[c.RuntimeArgs[i-1]] {
			arg = strings.ReplaceAll(arg, original, newArtifact)
		}
		cmd = append(cmd, arg)
	}
	if c.ArtifactFlag != "" {
		cmd = append(cmd, c.ArtifactFlag)
	}
	cmd = append(cmd, newArtifact)
	cmd = append(cmd, c.ProgramArgs...)
	return cmd, nil
}

// ArtifactPath is the absolute path of the running artifact
func (c Context) ArtifactPath() string {
	if c.Native {
		return c.Executable
	}
	if c.Artifact == "" {
		return ""
	}
	if filepath.IsAbs(c.Artifact) {
		return filepath.Clean(c.Artifact)
	}
	return filepath.Join(c.WorkDir, c.Artifact)
}

// String renders the launch as a single command line for logs
func (c Context) String() string {
	if c.Native || c.Artifact == "" {
		return c.Invocation
	}
	parts := append([]string{c.Executable}, c.RuntimeArgs...)
	if c.ArtifactFlag != "" {
		parts = append(parts, c.ArtifactFlag)
	}
	return strings.Join(append(parts, c.Invocation), " ")
}
