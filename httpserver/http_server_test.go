/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimiter/log/logtest"
	"github.com/acronis/go-ratelimiter/ratelimiter"
)

func TestHTTPServer_StartStop(t *testing.T) {
	reg, err := ratelimiter.NewRegistry(ratelimiter.DefaultConfig())
	require.NoError(t, err)
	reg.RateLimiter("backend")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := logtest.NewRecorder()
	srv := NewWithListener(NewDefaultConfig(), logger, NewManagementRouter(reg, logger, ManagementRouterOpts{}), listener)

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second*3, time.Millisecond*10)

	resp, err := http.Get("http://" + srv.Addr() + "/ratelimiters")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"rateLimiters":["backend"]}`, string(body))

	require.NoError(t, srv.Stop(true))
	select {
	case err = <-fatalErr:
		require.NoError(t, err)
	default:
	}
	_, found := logger.FindEntry("management HTTP server closed")
	require.True(t, found)
}

func TestHTTPServer_ListenError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()

	cfg := NewDefaultConfig()
	cfg.Address = listener.Addr().String()
	srv := New(cfg, logtest.NewRecorder(), http.NotFoundHandler())

	fatalErr := make(chan error, 1)
	srv.Start(fatalErr)
	require.Error(t, <-fatalErr)
}
