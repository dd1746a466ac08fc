package vmm

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/fabric/pkg/types"
)

// Backend is the opaque hypervisor-lifecycle contract spec.md leaves
// unspecified: fabric only needs Create/Start/Stop/Delete on something
// that behaves like a VM. The containerd backend below stands in for
// whatever real hypervisor a deployment plugs in.
type Backend interface {
	Create(ctx context.Context, inst types.Instance, tapIndex uint64) error
	Start(ctx context.Context, instanceID string) error
	Stop(ctx context.Context, instanceID string) error
	Delete(ctx context.Context, instanceID string) error
}

const (
	defaultNamespace  = "fabric"
	defaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdBackend implements Backend on top of containerd, generalized
// from the teacher's pkg/runtime.ContainerdRuntime (which ran long-lived
// service containers) into one VM-shaped container+task per Instance.
type ContainerdBackend struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdBackend connects to the containerd socket.
func NewContainerdBackend(socketPath string) (*ContainerdBackend, error) {
	if socketPath == "" {
		socketPath = defaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("vmm: connect containerd: %w", err)
	}
	return &ContainerdBackend{client: client, namespace: defaultNamespace}, nil
}

func (b *ContainerdBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *ContainerdBackend) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.namespace)
}

func (b *ContainerdBackend) Create(ctx context.Context, inst types.Instance, tapIndex uint64) error {
	ctx = b.ctx(ctx)
	image, err := b.client.Pull(ctx, inst.FormfileSpec.From, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("vmm: pull %s: %w", inst.FormfileSpec.From, err)
	}

	env := make([]string, 0, len(inst.FormfileSpec.Env))
	for k, v := range inst.FormfileSpec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithCPUShares(uint64(inst.Resources.VCPUs) * 1024),
		oci.WithMemoryLimit(uint64(inst.Resources.MemoryMB) * 1024 * 1024),
	}
	if len(inst.FormfileSpec.Entrypoint) > 0 {
		opts = append(opts, oci.WithProcessArgs(inst.FormfileSpec.Entrypoint...))
	}

	_, err = b.client.NewContainer(
		ctx,
		inst.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(inst.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("vmm: create container %s: %w", inst.ID, err)
	}
	return nil
}

func (b *ContainerdBackend) Start(ctx context.Context, instanceID string) error {
	ctx = b.ctx(ctx)
	c, err := b.client.LoadContainer(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("vmm: load container %s: %w", instanceID, err)
	}
	task, err := c.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return fmt.Errorf("vmm: create task %s: %w", instanceID, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("vmm: start task %s: %w", instanceID, err)
	}
	return nil
}

func (b *ContainerdBackend) Stop(ctx context.Context, instanceID string) error {
	ctx = b.ctx(ctx)
	c, err := b.client.LoadContainer(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("vmm: load container %s: %w", instanceID, err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("vmm: load task %s: %w", instanceID, err)
	}
	if err := task.Kill(ctx, 15); err != nil {
		return fmt.Errorf("vmm: kill task %s: %w", instanceID, err)
	}
	return nil
}

func (b *ContainerdBackend) Delete(ctx context.Context, instanceID string) error {
	ctx = b.ctx(ctx)
	c, err := b.client.LoadContainer(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("vmm: load container %s: %w", instanceID, err)
	}
	if task, err := c.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx)
	}
	return c.Delete(ctx, containerd.WithSnapshotCleanup)
}
