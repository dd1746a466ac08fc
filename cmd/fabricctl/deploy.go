package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/envelope"
	"github.com/cuemby/fabric/pkg/matcher"
	"github.com/cuemby/fabric/pkg/pack"
	"github.com/cuemby/fabric/pkg/queue"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/vmm"
)

var deployBrokerAddrs []string

var deployCmd = &cobra.Command{
	Use:   "deploy <formfile>",
	Short: "Build a Formfile and place its instance on the matched node",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().StringSliceVar(&deployBrokerAddrs, "broker", []string{"127.0.0.1:9092"}, "message queue broker addresses")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read formfile: %w", err)
	}
	formfile, err := pack.ParseFormfile(raw)
	if err != nil {
		return err
	}

	key, err := operatorKey()
	if err != nil {
		return err
	}
	owner := envelope.AddressFromPublicKey(&key.PublicKey)
	stateClient := state.NewClient(serverURL, key)

	scratchDir, err := os.MkdirTemp("", "fabric-deploy-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratchDir)

	builder := pack.NewBuilder(stateClient, time.Hour)
	buildID, err := builder.Run(ctx, owner, formfile, scratchDir, localBuildStep)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	fmt.Printf("built %s as %x\n", formfile.Name, buildID)

	nodes, err := listNodes(ctx, stateClient)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	req := matcher.BuildRequest{BuildID: buildID, Resources: formfile.Resources}
	winner, ok := matcher.Elect(req, matcher.Eligible(req, nodes, 90*time.Second, time.Now()))
	if !ok {
		return fmt.Errorf("no eligible node has capacity for %s", formfile.Name)
	}

	inst := types.Instance{
		ID:           types.InstanceID(winner.Address, buildID),
		OwnerAddress: owner,
		NodeAddress:  winner.Address,
		BuildID:      buildID,
		FormfileSpec: formfile,
		Resources:    formfile.Resources,
		Status:       types.InstanceStatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := stateClient.Put(ctx, state.KindInstance, inst.ID, inst); err != nil {
		return fmt.Errorf("publish instance: %w", err)
	}

	q, err := queue.New(deployBrokerAddrs)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer q.Close()

	payload, err := json.Marshal(struct {
		InstanceID string `json:"instance_id"`
	}{inst.ID})
	if err != nil {
		return err
	}
	sig, err := envelope.Sign(key, payload)
	if err != nil {
		return err
	}
	if _, err := q.Write(ctx, "vmm", byte(vmm.EventCreate), []byte(envelope.Encode(sig, payload))); err != nil {
		return fmt.Errorf("publish create event: %w", err)
	}

	fmt.Printf("instance %s placed on node %s\n", inst.ID, winner.Address)
	return nil
}

// localBuildStep is the CLI's stand-in build toolchain: it just declares
// scratchDir itself as the artifact directory, since fabricctl has no
// builder backend of its own. A real deployment's BuildStep would invoke
// whatever produces the workload's rootfs from formfile.From/Run/Copy.
func localBuildStep(ctx context.Context, formfile types.Formfile, scratchDir string) (string, error) {
	manifest, err := json.Marshal(formfile)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(scratchDir+"/formfile.json", manifest, 0o644); err != nil {
		return "", err
	}
	return scratchDir, nil
}

func listNodes(ctx context.Context, client *state.Client) ([]types.Node, error) {
	regs, err := client.List(ctx, state.KindNode)
	if err != nil {
		return nil, err
	}
	nodes := make([]types.Node, 0, len(regs))
	for _, reg := range regs {
		var n types.Node
		if err := json.Unmarshal(reg.ValueJSON, &n); err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
