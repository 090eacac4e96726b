// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Command pqctl is an operator CLI for manually poking a running queue
// deployment: enqueue a payload, dequeue a batch, delete by key, extend
// or release a lease, and read counts summed across every partition.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/erigontech/pqservice/client"
	"github.com/erigontech/pqservice/partition"
)

var endpoints []string

func main() {
	root := &cobra.Command{
		Use:   "pqctl",
		Short: "operator CLI for the priority queue",
	}
	root.PersistentFlags().StringSliceVar(&endpoints, "endpoints", nil, "partition endpoints, ordered by partition id")

	root.AddCommand(enqueueCmd(), dequeueCmd(), peekCmd(), deleteCmd(), extendCmd(), releaseCmd(), countCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() (*client.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("--endpoints is required")
	}
	resolver := client.StaticResolver(endpoints)
	return client.New(uint64(len(endpoints)), resolver)
}

func enqueueCmd() *cobra.Command {
	var band int32
	var leaseSeconds, expirationMinutes int
	var payload string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "enqueue one JSON payload into a priority band",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			items, err := c.Enqueue(cmd.Context(), []json.RawMessage{json.RawMessage(payload)}, band, leaseSeconds, expirationMinutes)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	cmd.Flags().Int32Var(&band, "band", 0, "priority band, 0 is most urgent")
	cmd.Flags().IntVar(&leaseSeconds, "lease-seconds", 0, "lease duration, 0 uses the partition default")
	cmd.Flags().IntVar(&expirationMinutes, "expiration-minutes", 0, "absolute expiration, 0 means never")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload to enqueue")
	cmd.MarkFlagRequired("payload")
	return cmd
}

func dequeueCmd() *cobra.Command {
	var count int
	var startBand, endBand int32
	cmd := &cobra.Command{
		Use:   "dequeue",
		Short: "lease up to count items from a band range",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			items, err := c.Dequeue(cmd.Context(), count, startBand, endBand)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "maximum items to lease")
	cmd.Flags().Int32Var(&startBand, "start-band", 0, "first band to consider")
	cmd.Flags().Int32Var(&endBand, "end-band", -1, "last band to consider, -1 means the highest configured band")
	return cmd
}

func peekCmd() *cobra.Command {
	var partitionID uint64
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "sum the queued-item count across every partition (returns no items)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			n, err := c.TotalCount(cmd.Context(), partition.CountSelectorAllQueues)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&partitionID, "partition", 0, "partition id (unused, reserved for per-partition peek)")
	return cmd
}

func deleteCmd() *cobra.Command {
	var keyHex string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "delete an item by its key, lease or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			key, err := partition.ParseItemKeyHex(strings.TrimSpace(keyHex))
			if err != nil {
				return err
			}
			item, found, err := c.Delete(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("not found")
				return nil
			}
			return printJSON(item)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "item key, 64 hex characters")
	cmd.MarkFlagRequired("key")
	return cmd
}

func extendCmd() *cobra.Command {
	var keyHex string
	var seconds int
	cmd := &cobra.Command{
		Use:   "extend",
		Short: "extend an outstanding lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			return extendOrRelease(cmd, keyHex, time.Duration(seconds)*time.Second)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "item key, 64 hex characters")
	cmd.Flags().IntVar(&seconds, "seconds", 60, "new lease duration in seconds")
	cmd.MarkFlagRequired("key")
	return cmd
}

func releaseCmd() *cobra.Command {
	var keyHex string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "release a lease early, acknowledging the item: its lease and item rows are removed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return extendOrRelease(cmd, keyHex, 0)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "item key, 64 hex characters")
	cmd.MarkFlagRequired("key")
	return cmd
}

func extendOrRelease(cmd *cobra.Command, keyHex string, d time.Duration) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	key, err := partition.ParseItemKeyHex(strings.TrimSpace(keyHex))
	if err != nil {
		return err
	}
	ok, err := c.ExtendLease(cmd.Context(), key, d)
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func countCmd() *cobra.Command {
	var selector int32
	cmd := &cobra.Command{
		Use:   "count",
		Short: "sum a count selector across every partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			n, err := c.TotalCount(cmd.Context(), selector)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	cmd.Flags().Int32Var(&selector, "selector", partition.CountSelectorAllQueues, "band number, or -1 all queues, -2 lease, -3 expired, -4 items")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
