package pack

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

var packLog = log.WithComponent("pack")

// BuildState is a build's position in the pack manager's state machine.
type BuildState string

const (
	BuildQueued    BuildState = "queued"
	BuildBuilding  BuildState = "building"
	BuildCompleted BuildState = "completed"
	BuildFailed    BuildState = "failed"
)

// BuildStep performs the actual image/rootfs construction for a Formfile.
// The real implementation shells out to the node's build toolchain; tests
// substitute a stub.
type BuildStep func(ctx context.Context, f types.Formfile, scratchDir string) (artifactDir string, err error)

// Builder drives a single build through Queued -> Building -> Completed|Failed,
// recording progress as a CRDT Operation via the state client.
type Builder struct {
	stateClient *state.Client
	ttl         time.Duration
}

// NewBuilder constructs a Builder that reports Operation progress through
// stateClient, reaped after ttl.
func NewBuilder(stateClient *state.Client, ttl time.Duration) *Builder {
	return &Builder{stateClient: stateClient, ttl: ttl}
}

// Run executes step against f, publishing Operation updates at each state
// transition, and returns the resulting build id (sha256 of the packed
// artifact) on success.
func (b *Builder) Run(ctx context.Context, owner types.Address, f types.Formfile, scratchDir string, step BuildStep) ([32]byte, error) {
	opID := uuid.NewString()
	op := types.Operation{
		UUID:        opID,
		UserAddress: owner,
		ToolName:    "pack.build",
		Status:      types.OperationQueued,
		CreatedAt:   time.Now(),
		TTL:         b.ttl,
	}
	b.publish(ctx, op)

	op.Status = types.OperationRunning
	b.publish(ctx, op)

	artifactDir, err := step(ctx, f, scratchDir)
	if err != nil {
		op.Status = types.OperationFailed
		op.Result = err.Error()
		b.publish(ctx, op)
		return [32]byte{}, fmt.Errorf("pack: build %s: %w", f.Name, err)
	}

	buildID, err := PackArtifact(artifactDir)
	if err != nil {
		op.Status = types.OperationFailed
		op.Result = err.Error()
		b.publish(ctx, op)
		return [32]byte{}, err
	}

	op.Status = types.OperationCompleted
	op.Result = fmt.Sprintf("%x", buildID)
	b.publish(ctx, op)

	return buildID, nil
}

func (b *Builder) publish(ctx context.Context, op types.Operation) {
	if b.stateClient == nil {
		return
	}
	if err := b.stateClient.Put(ctx, state.KindOperation, op.UUID, op); err != nil {
		packLog.Warn().Err(err).Str("operation", op.UUID).Msg("failed to publish operation status")
	}
}

// buildIDFromBytes derives a build id by hashing an artifact's bytes; kept
// separate from PackArtifact's tar walk so unit tests can exercise it
// directly.
func buildIDFromBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}
