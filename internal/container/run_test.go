package container_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/heroku/color"
	"github.com/pkg/errors"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/internal/container"
	"github.com/kilnbuild/kiln/pkg/engine"
	efakes "github.com/kilnbuild/kiln/pkg/engine/fakes"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestRun(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "ContainerRun", testRun, spec.Parallel(), spec.Report(report.Terminal{}))
}

func testRun(t *testing.T, when spec.G, it spec.S) {
	var (
		containers *efakes.Containers
		outBuf     bytes.Buffer
		errBuf     bytes.Buffer
	)

	it.Before(func() {
		containers = efakes.NewContainers()
	})

	createContainer := func() string {
		id, err := containers.Create(context.TODO(), engine.ContainerConfig{
			Image: "some/builder:latest",
			Cmd:   []string{"/cnb/lifecycle/detector", "-app", "/workspace"},
		})
		h.AssertNil(t, err)
		return id
	}

	when("#Run", func() {
		it("starts the container and streams its output", func() {
			containers.Outputs["detector"] = "detect output\n"
			id := createContainer()

			status, err := container.Run(context.TODO(), containers, id, &outBuf, &errBuf)
			h.AssertNil(t, err)
			h.AssertEq(t, status, int64(0))

			h.AssertEq(t, containers.StartedIDs, []string{id})
			h.AssertContains(t, outBuf.String(), "detect output")
		})

		it("returns the exit status of a failed container", func() {
			containers.ExitCodes["detector"] = 100
			containers.Outputs["detector"] = "no buildpacks participating\n"
			id := createContainer()

			status, err := container.Run(context.TODO(), containers, id, &outBuf, &errBuf)
			h.AssertNil(t, err)
			h.AssertEq(t, status, int64(100))

			h.AssertContains(t, outBuf.String(), "no buildpacks participating")
		})

		it("errors when the container cannot be started", func() {
			_, err := container.Run(context.TODO(), containers, "missing-container", &outBuf, &errBuf)
			h.AssertErrorContains(t, err, "container start")
		})

		it("errors when waiting on the container fails", func() {
			containers.WaitErrs["detector"] = errors.New("engine connection lost")
			id := createContainer()

			_, err := container.Run(context.TODO(), containers, id, &outBuf, &errBuf)
			h.AssertErrorContains(t, err, "container wait")
			h.AssertErrorContains(t, err, "engine connection lost")
		})
	})
}
