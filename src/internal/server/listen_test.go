package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(tries uint) ListenOptions {
	return ListenOptions{
		MaxTries:        tries,
		InitialInterval: 10 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
}

func TestListen_FreePort(t *testing.T) {
	lis, err := Listen(context.Background(), "127.0.0.1:0", fastOptions(1), nil)
	require.NoError(t, err)
	defer lis.Close()

	assert.NotZero(t, lis.Addr().(*net.TCPAddr).Port)
}

func TestListen_RetriesUntilReleased(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := held.Addr().String()

	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Close()
	}()

	lis, err := Listen(context.Background(), addr, fastOptions(50), nil)
	require.NoError(t, err)
	defer lis.Close()
	assert.Equal(t, addr, lis.Addr().String())
}

func TestListen_GivesUp(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	_, err = Listen(context.Background(), held.Addr().String(), fastOptions(3), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestListen_Canceled(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Listen(ctx, held.Addr().String(), fastOptions(100), nil)
	assert.Error(t, err)
}
