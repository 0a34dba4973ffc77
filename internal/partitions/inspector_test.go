// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package partitions

import (
	"context"
	"fmt"
	"testing"

	"github.com/frankban/quicktest"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

func TestSlotsFromRootPartition(t *testing.T) {
	for name, test := range map[string]struct {
		rootPart string
		active   Slot
		inactive Slot
	}{
		"sata-a": {
			rootPart: "/dev/sda3",
			active:   SlotA,
			inactive: SlotB,
		},
		"sata-b": {
			rootPart: "/dev/sda5",
			active:   SlotB,
			inactive: SlotA,
		},
		"emmc-a": {
			rootPart: "/dev/mmcblk0p3",
			active:   SlotA,
			inactive: SlotB,
		},
		"nvme-b": {
			rootPart: "/dev/nvme0n1p5",
			active:   SlotB,
			inactive: SlotA,
		},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			active, inactive, err := slotsFromRootPartition(test.rootPart)
			qt.Assert(err, quicktest.IsNil)
			qt.Check(active, quicktest.Equals, test.active)
			qt.Check(inactive, quicktest.Equals, test.inactive)
		})
	}
}

func TestSlotsFromRootPartitionErrors(t *testing.T) {
	for name, rootPart := range map[string]string{
		"stateful":  "/dev/sda1",
		"kernel":    "/dev/sda2",
		"not-a-dev": "garbage",
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			_, _, err := slotsFromRootPartition(rootPart)
			var layoutErr *UnknownLayoutError
			qt.Check(err, quicktest.ErrorAs, &layoutErr)
		})
	}
}

// cgptRunner answers rootdev and cgpt attribute queries from a fixed
// per-kernel-partition table.
func cgptRunner(rootPart string, attrs map[int]map[string]int) target.Runner {
	return target.RunnerFunc(func(ctx context.Context, cmd string, opts target.RunOptions) (target.Result, error) {
		if cmd == "rootdev -s" {
			return target.Result{Stdout: rootPart + "\n"}, nil
		}
		var kernelNum int
		var flag string
		if _, err := fmt.Sscanf(cmd, "cgpt show -n -i %d %s", &kernelNum, &flag); err != nil {
			return target.Result{}, fmt.Errorf("unexpected command %q", cmd)
		}
		value, ok := attrs[kernelNum][flag]
		if !ok {
			return target.Result{}, fmt.Errorf("no attribute %s for partition %d", flag, kernelNum)
		}
		return target.Result{Stdout: fmt.Sprintf("%d\n", value)}, nil
	})
}

func TestPriorityState(t *testing.T) {
	qt := quicktest.New(t)
	ctx := context.Background()

	i := NewInspector(cgptRunner("/dev/mmcblk0p3", map[int]map[string]int{
		2: {"-P": 1, "-T": 0, "-S": 1},
		4: {"-P": 2, "-T": 6, "-S": 0},
	}))

	active, inactive, err := i.ActiveAndInactiveSlots(ctx)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(active, quicktest.Equals, SlotA)
	qt.Check(inactive, quicktest.Equals, SlotB)

	stateA, err := i.PriorityState(ctx, SlotA)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(stateA, quicktest.Equals, PriorityState{Priority: 1, TriesRemaining: 0, Success: true})

	stateB, err := i.PriorityState(ctx, SlotB)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(stateB, quicktest.Equals, PriorityState{Priority: 2, TriesRemaining: 6, Success: false})
}

func TestNextBootSlot(t *testing.T) {
	for name, test := range map[string]struct {
		priorityA int
		priorityB int
		next      Slot
	}{
		"a-wins":     {priorityA: 2, priorityB: 1, next: SlotA},
		"b-wins":     {priorityA: 1, priorityB: 2, next: SlotB},
		"tie-prefers-b": {priorityA: 1, priorityB: 1, next: SlotB},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			i := NewInspector(cgptRunner("/dev/sda3", map[int]map[string]int{
				2: {"-P": test.priorityA},
				4: {"-P": test.priorityB},
			}))
			next, err := i.NextBootSlot(context.Background())
			qt.Assert(err, quicktest.IsNil)
			qt.Check(next, quicktest.Equals, test.next)
		})
	}
}
