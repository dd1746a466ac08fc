package vmm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/fabric/pkg/apierrors"
	"github.com/cuemby/fabric/pkg/envelope"
	"github.com/cuemby/fabric/pkg/httpapi"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/queue"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

var vmmLog = log.WithComponent("vmm")

// DefaultBootCompletePort is the guest-facing boot-complete callback port
// documented in spec.md §6.
const DefaultBootCompletePort = 3002

// command is the canonical payload carried on the vmm topic.
type command struct {
	InstanceID string `json:"instance_id"`
}

// Coordinator drives the vmm topic: each message's sub-topic selects the
// Event, its payload names the instance, and the command is authorized
// against the instance's owner before any backend call is made.
type Coordinator struct {
	queue   queue.Client
	state   *state.Client
	backend Backend
	taps    *TapAllocator
	topic   string
}

// NewCoordinator wires a queue client, a state client, and a hypervisor
// backend together.
func NewCoordinator(q queue.Client, st *state.Client, backend Backend) *Coordinator {
	return &Coordinator{queue: q, state: st, backend: backend, taps: NewTapAllocator(0), topic: "vmm"}
}

// Run tails the vmm topic from lastIndex, applying each event until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context, lastIndex int64, pollInterval time.Duration) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			msgs, err := c.queue.ReadAfter(ctx, c.topic, lastIndex, 64)
			if err != nil {
				vmmLog.Warn().Err(err).Msg("vmm: read failed")
				continue
			}
			for _, m := range msgs {
				lastIndex = m.Index
				if err := c.handle(ctx, Event(m.SubTopic), m.Payload); err != nil {
					vmmLog.Warn().Err(err).Str("event", Event(m.SubTopic).String()).Msg("vmm: handling event failed")
				}
			}
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, event Event, payload []byte) error {
	signer, body, err := envelope.Verify(string(payload))
	if err != nil {
		return fmt.Errorf("vmm: authorize: %w", err)
	}
	var cmd command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("vmm: decode command: %w", err)
	}

	var inst types.Instance
	if err := c.state.Get(ctx, state.KindInstance, cmd.InstanceID, &inst); err != nil {
		return fmt.Errorf("vmm: load instance %s: %w", cmd.InstanceID, err)
	}
	if inst.OwnerAddress != signer {
		return fmt.Errorf("vmm: signer %s not authorized for instance %s", signer, cmd.InstanceID)
	}

	var next types.InstanceStatus
	if event == EventReboot {
		// Reboot is Stop followed by Start.
		next, err = Transition(inst.Status, EventStop)
		if err == nil {
			next, err = Transition(next, EventStart)
		}
	} else {
		next, err = Transition(inst.Status, event)
	}
	if err != nil {
		inst.Status, _ = Fail(inst.Status)
		inst.Error = err.Error()
		_ = c.state.Put(ctx, state.KindInstance, inst.ID, inst)
		return err
	}

	if backendErr := c.applyBackend(ctx, event, &inst); backendErr != nil {
		inst.Status, _ = Fail(inst.Status)
		inst.Error = backendErr.Error()
		_ = c.state.Put(ctx, state.KindInstance, inst.ID, inst)
		return backendErr
	}

	inst.Status = next
	inst.UpdatedAt = time.Now()
	return c.state.Put(ctx, state.KindInstance, inst.ID, inst)
}

func (c *Coordinator) applyBackend(ctx context.Context, event Event, inst *types.Instance) error {
	switch event {
	case EventCreate:
		inst.TapIndex = c.taps.Allocate()
		return c.backend.Create(ctx, *inst, inst.TapIndex)
	case EventBoot, EventStart:
		return c.backend.Start(ctx, inst.ID)
	case EventStop:
		return c.backend.Stop(ctx, inst.ID)
	case EventDelete:
		return c.backend.Delete(ctx, inst.ID)
	case EventReboot:
		if err := c.backend.Stop(ctx, inst.ID); err != nil {
			return err
		}
		return c.backend.Start(ctx, inst.ID)
	default:
		return fmt.Errorf("vmm: unhandled event %v", event)
	}
}

// BootCompleteServer exposes the guest-facing callback the VM agent posts
// to once it has finished booting, moving Created/Pending to Running.
type BootCompleteServer struct {
	state *state.Client
}

func NewBootCompleteServer(st *state.Client) *BootCompleteServer {
	return &BootCompleteServer{state: st}
}

func (s *BootCompleteServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/boot_complete", s.handleBootComplete)
	return r
}

type bootCompleteRequest struct {
	InstanceID string `json:"instance_id"`
	OverlayIP  string `json:"overlay_ip"`
}

func (s *BootCompleteServer) handleBootComplete(w http.ResponseWriter, r *http.Request) {
	var req bootCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, apierrors.BadRequest("invalid boot_complete body", err))
		return
	}

	var inst types.Instance
	if err := s.state.Get(r.Context(), state.KindInstance, req.InstanceID, &inst); err != nil {
		httpapi.WriteError(w, apierrors.NotFound("instance not found", err))
		return
	}
	next, err := Transition(inst.Status, EventBoot)
	if err != nil {
		httpapi.WriteError(w, apierrors.Conflict("boot_complete rejected", err))
		return
	}
	inst.Status = next
	if req.OverlayIP != "" {
		if ip := net.ParseIP(req.OverlayIP); ip != nil {
			inst.OverlayIP = ip
		}
	}
	inst.UpdatedAt = time.Now()
	if err := s.state.Put(r.Context(), state.KindInstance, inst.ID, inst); err != nil {
		httpapi.WriteError(w, apierrors.Internal("failed to persist boot completion", err))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": string(inst.Status)})
}
