package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func controlExchange(t *testing.T, env *testEnv, command string, shutdown func(string)) string {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go env.srv.handleControlCommand(context.Background(), serverConn, shutdown)
	return exchange(t, clientConn, command)
}

func TestControl_Stats(t *testing.T) {
	env := setupTestServer(t)
	noShutdown := func(string) { t.Error("unexpected shutdown") }

	assert.Equal(t, "OK|connections=0,users=,typing=0", controlExchange(t, env, "stats", noShutdown))

	client := env.connectClient(t)
	require.NoError(t, sendRequest(client, "userConnected|2"))
	env.waitConnections(t, 1)

	assert.Equal(t, "OK|connections=1,users=2,typing=0", controlExchange(t, env, "stats", noShutdown))
}

func TestControl_Shutdown(t *testing.T) {
	env := setupTestServer(t)

	reasons := make(chan string, 1)
	shutdown := func(reason string) { reasons <- reason }

	assert.Equal(t, "OK|Shutting down", controlExchange(t, env, "shutdown|deploy", shutdown))
	select {
	case reason := <-reasons:
		assert.Equal(t, "deploy", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not requested")
	}

	assert.Equal(t, "OK|Shutting down", controlExchange(t, env, "shutdown", shutdown))
	assert.Equal(t, "maintenance", <-reasons)
}

func TestControl_Unknown(t *testing.T) {
	env := setupTestServer(t)

	assert.Equal(t, "ERROR|Unknown command", controlExchange(t, env, "reboot", func(string) {}))
}

func TestServeControl(t *testing.T) {
	env := setupTestServer(t)
	path := t.TempDir() + "/ctl.sock"
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- env.srv.ServeControl(ctx, ln, func(string) {}) }()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "OK|connections=0,users=,typing=0", exchange(t, conn, "stats"))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("control socket did not stop")
	}
}
