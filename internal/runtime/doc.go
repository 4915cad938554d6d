// Package runtime runs build stages in containers managed by containerd.
//
// A [Runtime] connects to a containerd daemon and implements the
// environment provider used by the build engine. A stage's base reference
// is either the path of an OCI archive, which is imported and tagged with a
// deterministic name derived from its path, or the name of an image already
// present in the containerd namespace. The image is unpacked for the host
// platform and a container with a fresh snapshot is started with a
// long-running task, so every command of the stage is an exec into the
// same container.
//
// Files move in and out of containers as tar streams produced and consumed
// by the container's own tar binary, then normalized on the host so that
// archives are reproducible.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "cruxbuild")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	e, err := rt.Create(ctx, env.Spec{Stage: "build", Base: "alpine.tar", Workdir: "/app"})
//	if err != nil {
//	    return err
//	}
//	defer e.Close(ctx)
//
//	res, err := e.Exec(ctx, "echo hello")
package runtime
