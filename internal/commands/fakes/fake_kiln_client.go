// Package fakes provides a recording client for command tests.
package fakes

import (
	"context"

	"github.com/kilnbuild/kiln/pkg/client"
)

type FakeKilnClient struct {
	BuildCalls []client.BuildOptions
	BuildErr   error
}

func (c *FakeKilnClient) Build(_ context.Context, opts client.BuildOptions) error {
	c.BuildCalls = append(c.BuildCalls, opts)
	return c.BuildErr
}
