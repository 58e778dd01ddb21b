/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter_test

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-ratelimiter/config"
	"github.com/acronis/go-ratelimiter/ratelimiter"
)

func ExampleRateLimiter() {
	rl := ratelimiter.MustRateLimiter("backend", ratelimiter.MustConfig(time.Minute, 2, 0))

	for i := 0; i < 3; i++ {
		fmt.Println(rl.AcquirePermission(context.Background()))
	}
	fmt.Println(rl.Metrics().AvailablePermits)

	// Output:
	// true
	// true
	// false
	// 0
}

func ExampleRegistry() {
	cfgData := `
rateLimiter:
  default:
    limitRefreshPeriod: 1m
    limitForPeriod: 100
    timeoutDuration: 0s
  limiters:
    payments:
      limitForPeriod: 1
`
	regCfg := ratelimiter.NewRegistryConfig()
	if err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
		bytes.NewBufferString(cfgData), config.DataTypeYAML, regCfg); err != nil {
		fmt.Println(err)
		return
	}

	reg, err := ratelimiter.NewRegistry(regCfg.Default)
	if err != nil {
		fmt.Println(err)
		return
	}
	if err = reg.ApplyConfig(regCfg); err != nil {
		fmt.Println(err)
		return
	}

	payments := reg.RateLimiter("payments")
	fmt.Println(payments.AcquirePermission(context.Background()))
	fmt.Println(payments.AcquirePermission(context.Background()))
	fmt.Println(reg.RateLimiter("orders").Config().LimitForPeriod)

	// Output:
	// true
	// false
	// 100
}
