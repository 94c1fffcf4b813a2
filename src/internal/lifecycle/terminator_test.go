package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTerminator(t *testing.T) (*Terminator, *[]string, *int) {
	t.Helper()
	var calls []string
	code := -1
	term := NewTerminator(time.Second, nil)
	term.SetExitFunc(func(c int) {
		calls = append(calls, "exit")
		code = c
	})
	return term, &calls, &code
}

func TestTerminate_Order(t *testing.T) {
	term, calls, code := newTestTerminator(t)

	term.Defer("remove", func() error { *calls = append(*calls, "remove"); return nil })
	term.OnShutdown("http", func(ctx context.Context) error { *calls = append(*calls, "http"); return nil })
	term.Defer("spawn", func() error { *calls = append(*calls, "spawn"); return nil })
	term.OnShutdown("grpc", func(ctx context.Context) error { *calls = append(*calls, "grpc"); return nil })

	term.Terminate(0)

	assert.Equal(t, []string{"http", "grpc", "remove", "spawn", "exit"}, *calls)
	assert.Equal(t, 0, *code)
	select {
	case <-term.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestTerminate_FailuresDoNotStopExit(t *testing.T) {
	term, calls, code := newTestTerminator(t)

	term.OnShutdown("http", func(ctx context.Context) error { return errors.New("busy") })
	term.Defer("remove", func() error { *calls = append(*calls, "remove"); return errors.New("locked") })
	term.Defer("spawn", func() error { *calls = append(*calls, "spawn"); return nil })

	term.Terminate(3)

	assert.Equal(t, []string{"remove", "spawn", "exit"}, *calls)
	assert.Equal(t, 3, *code)
}

func TestTerminate_OnlyOnce(t *testing.T) {
	term, calls, _ := newTestTerminator(t)
	term.Defer("spawn", func() error { *calls = append(*calls, "spawn"); return nil })

	term.Terminate(0)
	term.Terminate(0)

	assert.Equal(t, []string{"spawn", "exit"}, *calls)
}

func TestTerminate_ShutdownTimeout(t *testing.T) {
	term, _, _ := newTestTerminator(t)
	term.timeout = 10 * time.Millisecond

	var stepErr error
	term.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		stepErr = ctx.Err()
		return stepErr
	})

	term.Terminate(0)
	assert.ErrorIs(t, stepErr, context.DeadlineExceeded)
}
