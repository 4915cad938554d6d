package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/cruxbuild/internal/env"
)

// Labels recorded on stage containers.
const (
	labelStage = "io.cruxbuild.stage"
	labelBase  = "io.cruxbuild.base"
)

// A running stage container backed by containerd.
//
// Every exec derives its process from a template captured at creation: the
// image's process with the stage environment merged in and the stage
// working directory applied.
type Container struct {
	client   *containerd.Client // Containerd client for managing the container.
	id       string             // Containerd container ID.
	stage    string             // Stage the container runs.
	template specs.Process      // Process template for execs.
}

// Returns the containerd container ID.
func (c *Container) ID() string { return c.id }

// Kills the container's task and removes the container with its snapshot.
//
// A container that no longer exists is not an error.
func (c *Container) Destroy(ctx context.Context) error {
	if err := removeContainer(ctx, c.client, c.id); err != nil {
		return fmt.Errorf("%w: destroying %s: %w", ErrRuntime, c.id, err)
	}
	return nil
}

// Creates and starts a container for a stage from a prepared image tag.
//
// The container idles in a long-running task; stage commands run as
// additional execs. A stale container left under the same ID by an earlier
// process is removed first.
func (rt *Runtime) startContainer(ctx context.Context, tag string, spec env.Spec) (*Container, error) {
	image, err := rt.resolveImage(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	id := containerID(spec.Stage)
	if err := removeContainer(ctx, rt.client, id); err != nil {
		slog.Warn("failed to remove stale container", "id", id, "error", err)
	}

	ctr, err := rt.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithContainerLabels(map[string]string{
			labelStage: spec.Stage,
			labelBase:  spec.Base,
		}),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(rt.platform),
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := &Container{client: rt.client, id: id, stage: spec.Stage}

	if err := c.init(ctx, ctr, spec); err != nil {
		removeContainer(context.WithoutCancel(ctx), rt.client, id)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "stage", spec.Stage, "image", tag)
	return c, nil
}

// Captures the exec template and starts the idle task.
func (c *Container) init(ctx context.Context, ctr containerd.Container, spec env.Spec) error {
	ocispec, err := ctr.Spec(ctx)
	if err != nil {
		return err
	}

	c.template = *ocispec.Process
	c.template.Terminal = false
	c.template.Env = mergeEnv(ocispec.Process.Env, spec.Env)
	if spec.Workdir != "" {
		c.template.Cwd = spec.Workdir
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Kills the task of the container with the given ID, if any, and deletes
// the container with its snapshot.
func removeContainer(ctx context.Context, client *containerd.Client, id string) error {
	ctr, err := client.LoadContainer(ctx, id)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}
