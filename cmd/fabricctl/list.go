package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect fabric nodes",
}

var nodeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List known nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStateClient()
		if err != nil {
			return err
		}
		regs, err := client.List(cmd.Context(), state.KindNode)
		if err != nil {
			return err
		}
		fmt.Printf("%-44s %-10s %-8s %-10s %s\n", "ADDRESS", "REGION", "STATUS", "VCPUS", "LAST HEARTBEAT")
		for key, reg := range regs {
			var n types.Node
			if err := json.Unmarshal(reg.ValueJSON, &n); err != nil {
				continue
			}
			fmt.Printf("%-44s %-10s %-8s %-10d %s\n", key, n.Region, n.Status, n.Capability.VCPUs, n.LastHeartbeat.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Inspect workload instances",
}

var instanceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStateClient()
		if err != nil {
			return err
		}
		regs, err := client.List(cmd.Context(), state.KindInstance)
		if err != nil {
			return err
		}
		fmt.Printf("%-44s %-44s %-10s %s\n", "ID", "NODE", "STATUS", "IMAGE")
		for _, reg := range regs {
			var inst types.Instance
			if err := json.Unmarshal(reg.ValueJSON, &inst); err != nil {
				continue
			}
			fmt.Printf("%-44s %-44s %-10s %s\n", inst.ID, inst.NodeAddress.String(), inst.Status, inst.FormfileSpec.From)
		}
		return nil
	},
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Inspect overlay mesh peers",
}

var peerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List mesh peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStateClient()
		if err != nil {
			return err
		}
		regs, err := client.List(cmd.Context(), state.KindPeer)
		if err != nil {
			return err
		}
		fmt.Printf("%-44s %-10s %-16s %s\n", "ADDRESS", "TYPE", "OVERLAY IP", "CIDR")
		for key, reg := range regs {
			var p types.Peer
			if err := json.Unmarshal(reg.ValueJSON, &p); err != nil {
				continue
			}
			fmt.Printf("%-44s %-10s %-16s %s\n", key, p.PeerType, p.OverlayIP, p.CIDR)
		}
		return nil
	},
}

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "Inspect authoritative DNS records",
}

var dnsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List DNS records",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStateClient()
		if err != nil {
			return err
		}
		regs, err := client.List(cmd.Context(), state.KindDnsRecord)
		if err != nil {
			return err
		}
		fmt.Printf("%-30s %-8s %s\n", "DOMAIN", "TYPE", "VALUES")
		for _, reg := range regs {
			var r types.DnsRecord
			if err := json.Unmarshal(reg.ValueJSON, &r); err != nil {
				continue
			}
			fmt.Printf("%-30s %-8s %v\n", r.Domain, r.RecordType, r.Values)
		}
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeLsCmd)
	instanceCmd.AddCommand(instanceLsCmd)
	peerCmd.AddCommand(peerLsCmd)
	dnsCmd.AddCommand(dnsLsCmd)
}

func newStateClient() (*state.Client, error) {
	key, err := operatorKey()
	if err != nil {
		return nil, err
	}
	return state.NewClient(serverURL, key), nil
}
