/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimiter/ratelimiter"
)

type responseInfo struct {
	resp       *http.Response
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func doGet(c *http.Client, url string) responseInfo {
	startedAt := time.Now()
	resp, err := c.Get(url)
	finishedAt := time.Now()
	if err == nil {
		_ = resp.Body.Close()
	}
	return responseInfo{resp, err, startedAt, finishedAt}
}

func makeTestServerForRateLimitingRoundTripper(adaptiveRateLimitHeader string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if adaptiveRateLimitHeader != "" {
			if rl := r.URL.Query().Get("rateLimit"); rl != "" {
				rw.Header().Set(adaptiveRateLimitHeader, rl)
			}
		}
		_, _ = rw.Write([]byte("ok"))
	}))
}

func TestNewRateLimitingRoundTripper(t *testing.T) {
	rl := ratelimiter.MustRateLimiter("client", ratelimiter.MustConfig(time.Second, 1, 0))
	tests := []struct {
		Name        string
		RateLimiter *ratelimiter.RateLimiter
		Opts        RateLimitingRoundTripperOpts
		WantErrMsg  string
	}{
		{
			Name:       "rate limiter is nil",
			WantErrMsg: "rate limiter must be specified",
		},
		{
			Name:        "wait timeout is negative",
			RateLimiter: rl,
			Opts:        RateLimitingRoundTripperOpts{WaitTimeout: -time.Second},
			WantErrMsg:  "wait timeout must not be negative",
		},
		{
			Name:        "slack percent < 0",
			RateLimiter: rl,
			Opts:        RateLimitingRoundTripperOpts{Adaptation: RateLimitingRoundTripperAdaptation{SlackPercent: -1}},
			WantErrMsg:  "slack percent must be in range [0..100]",
		},
		{
			Name:        "slack percent > 100",
			RateLimiter: rl,
			Opts:        RateLimitingRoundTripperOpts{Adaptation: RateLimitingRoundTripperAdaptation{SlackPercent: 101}},
			WantErrMsg:  "slack percent must be in range [0..100]",
		},
	}
	for i := range tests {
		tt := tests[i]
		t.Run(tt.Name, func(t *testing.T) {
			_, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, tt.RateLimiter, tt.Opts)
			require.EqualError(t, err, tt.WantErrMsg)
		})
	}

	tr, err := NewRateLimitingRoundTripper(http.DefaultTransport, rl)
	require.NoError(t, err)
	require.Equal(t, 1, tr.RateLimit)
}

func TestRateLimitingRoundTripper_RoundTrip(t *testing.T) {
	const allowedTimeDeviation = time.Millisecond * 100

	server := makeTestServerForRateLimitingRoundTripper("")
	defer server.Close()

	makeClient := func(period time.Duration, limit int, waitTimeout time.Duration) *http.Client {
		rl := ratelimiter.MustRateLimiter("client", ratelimiter.MustConfig(period, limit, time.Hour))
		tr, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, rl, RateLimitingRoundTripperOpts{WaitTimeout: waitTimeout})
		require.NoError(t, err)
		return &http.Client{Transport: tr}
	}

	t.Run("waiting for permit is timed out for the 2nd request", func(t *testing.T) {
		client := makeClient(time.Hour, 1, time.Millisecond*500)

		respInfo := doGet(client, server.URL)
		require.NoError(t, respInfo.err, "the 1st request should be finished without error")
		require.Equal(t, http.StatusOK, respInfo.resp.StatusCode)
		require.WithinDuration(t, respInfo.startedAt, respInfo.finishedAt, allowedTimeDeviation)

		respInfo = doGet(client, server.URL)
		var waitErr *RateLimitingWaitError
		require.ErrorAs(t, respInfo.err, &waitErr,
			"the 2nd request should be finished with error since wait timeout for rate limiting is not enough")
		require.Equal(t, "client", waitErr.RateLimiterName)
		require.ErrorIs(t, respInfo.err, ratelimiter.ErrRequestNotPermitted)
		require.WithinDuration(t, respInfo.startedAt, respInfo.finishedAt, allowedTimeDeviation,
			"error about too many requests should be returned immediately")
	})

	t.Run("the 2nd request waits for the next cycle", func(t *testing.T) {
		client := makeClient(time.Millisecond*300, 1, time.Second)

		respInfo := doGet(client, server.URL)
		require.NoError(t, respInfo.err)

		respInfo = doGet(client, server.URL)
		require.NoError(t, respInfo.err)
		require.Equal(t, http.StatusOK, respInfo.resp.StatusCode)
		require.Less(t, respInfo.finishedAt.Sub(respInfo.startedAt), time.Millisecond*300+allowedTimeDeviation)
	})

	t.Run("concurrent requests above the limit are rejected", func(t *testing.T) {
		const limit = 4
		const reqsCount = limit * 2
		client := makeClient(time.Hour, limit, time.Millisecond)

		errsCh := make(chan error, reqsCount)
		var wg sync.WaitGroup
		wg.Add(reqsCount)
		for i := 0; i < reqsCount; i++ {
			go func() {
				defer wg.Done()
				errsCh <- doGet(client, server.URL).err
			}()
		}
		wg.Wait()
		close(errsCh)

		succeededCount := 0
		for err := range errsCh {
			if err == nil {
				succeededCount++
				continue
			}
			var waitErr *RateLimitingWaitError
			require.ErrorAs(t, err, &waitErr)
		}
		require.Equal(t, limit, succeededCount)
	})

	t.Run("canceled request context", func(t *testing.T) {
		rl := ratelimiter.MustRateLimiter("client", ratelimiter.MustConfig(time.Hour, 1, time.Hour*2))
		tr, err := NewRateLimitingRoundTripper(http.DefaultTransport, rl)
		require.NoError(t, err)
		client := &http.Client{Transport: tr}
		require.NoError(t, doGet(client, server.URL).err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
		require.NoError(t, err)
		_, err = client.Do(req) //nolint:bodyclose // Response is nil.
		require.ErrorIs(t, err, ratelimiter.ErrWaitInterrupted)
	})
}

func TestRateLimitingRoundTripper_RoundTrip_Adaptation(t *testing.T) {
	const adaptiveRateLimitHeader = "X-Rate-Limit"

	server := makeTestServerForRateLimitingRoundTripper(adaptiveRateLimitHeader)
	defer server.Close()

	makeAdaptiveClient := func(limit int, respSlackPercent int) (*http.Client, *RateLimitingRoundTripper) {
		rl := ratelimiter.MustRateLimiter("client", ratelimiter.MustConfig(time.Hour, limit, 0))
		tr, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, rl, RateLimitingRoundTripperOpts{
			Adaptation: RateLimitingRoundTripperAdaptation{
				ResponseHeaderName: adaptiveRateLimitHeader,
				SlackPercent:       respSlackPercent,
			},
		})
		require.NoError(t, err)
		return &http.Client{Transport: tr}, tr
	}

	t.Run("limit is decreased by value from response's header", func(t *testing.T) {
		client, transport := makeAdaptiveClient(50, 0)
		require.NoError(t, doGet(client, server.URL+"?rateLimit=10").err)
		require.Equal(t, 10, transport.RateLimiter.Config().LimitForPeriod)
		require.Equal(t, 50, transport.RateLimit)
	})

	t.Run("limit is decreased with slack percent", func(t *testing.T) {
		client, transport := makeAdaptiveClient(50, 20)
		require.NoError(t, doGet(client, server.URL+"?rateLimit=10").err)
		require.Equal(t, 8, transport.RateLimiter.Config().LimitForPeriod)

		require.NoError(t, doGet(client, server.URL+"?rateLimit=0").err)
		require.Equal(t, 1, transport.RateLimiter.Config().LimitForPeriod)
	})

	t.Run("limit is never raised above the initial one", func(t *testing.T) {
		client, transport := makeAdaptiveClient(50, 0)
		require.NoError(t, doGet(client, server.URL+"?rateLimit=10").err)
		require.NoError(t, doGet(client, server.URL+"?rateLimit=100").err)
		require.Equal(t, 50, transport.RateLimiter.Config().LimitForPeriod)
	})

	t.Run("limit is restored when there is no header", func(t *testing.T) {
		client, transport := makeAdaptiveClient(50, 0)
		require.NoError(t, doGet(client, server.URL+"?rateLimit=10").err)
		require.NoError(t, doGet(client, server.URL).err)
		require.Equal(t, 50, transport.RateLimiter.Config().LimitForPeriod)

		require.NoError(t, doGet(client, server.URL+"?rateLimit=invalid").err)
		require.Equal(t, 50, transport.RateLimiter.Config().LimitForPeriod)
	})
}
