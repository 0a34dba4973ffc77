// Copyright 2023 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package partitions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"chromium.googlesource.com/chromiumos/platform/dev-util.git/contrib/cros-provision/internal/target"
)

// Inspector reads A/B slot state from a device. It is the sole
// authority on the on-disk partition layout; nothing else in this
// module interprets rootdev or cgpt output.
type Inspector struct {
	r target.Runner
}

func NewInspector(r target.Runner) *Inspector {
	return &Inspector{r: r}
}

// ActiveRootPartition returns the booted root partition, e.g.
// /dev/mmcblk0p3.
func (i *Inspector) ActiveRootPartition(ctx context.Context) (string, error) {
	res, err := i.r.Run(ctx, "rootdev -s", target.RunOptions{})
	if err != nil {
		return "", fmt.Errorf("rootdev failed: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ActiveAndInactiveSlots maps the booted root device to the static slot
// pair. Exactly one slot is active at any time; a root device matching
// neither slot yields an UnknownLayoutError.
func (i *Inspector) ActiveAndInactiveSlots(ctx context.Context) (active, inactive Slot, err error) {
	rootPart, err := i.ActiveRootPartition(ctx)
	if err != nil {
		return Slot{}, Slot{}, err
	}
	return slotsFromRootPartition(rootPart)
}

// cgpt reads one numeric attribute of slot's kernel partition.
// flag is one of -P (priority), -T (tries), -S (successful).
func (i *Inspector) cgpt(ctx context.Context, flag string, slot Slot) (int, error) {
	cmd := fmt.Sprintf("cgpt show -n -i %d %s $(rootdev -s -d)", slot.KernelNum, flag)
	res, err := i.r.Run(ctx, cmd, target.RunOptions{})
	if err != nil {
		return 0, fmt.Errorf("cgpt %s for %s failed: %w", flag, slot, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("cannot parse cgpt %s output %q for %s: %v", flag, res.Stdout, slot, err)
	}
	return n, nil
}

// PriorityState reads priority, tries and success for slot.
func (i *Inspector) PriorityState(ctx context.Context, slot Slot) (PriorityState, error) {
	priority, err := i.cgpt(ctx, "-P", slot)
	if err != nil {
		return PriorityState{}, err
	}
	tries, err := i.cgpt(ctx, "-T", slot)
	if err != nil {
		return PriorityState{}, err
	}
	success, err := i.cgpt(ctx, "-S", slot)
	if err != nil {
		return PriorityState{}, err
	}
	return PriorityState{
		Priority:       priority,
		TriesRemaining: tries,
		Success:        success != 0,
	}, nil
}

// NextBootSlot returns the slot the firmware will boot next: the one
// with the strictly higher priority. Equal priorities are not expected
// on a healthy device; B wins the tie, matching the historical
// behavior.
func (i *Inspector) NextBootSlot(ctx context.Context) (Slot, error) {
	priorityA, err := i.cgpt(ctx, "-P", SlotA)
	if err != nil {
		return Slot{}, err
	}
	priorityB, err := i.cgpt(ctx, "-P", SlotB)
	if err != nil {
		return Slot{}, err
	}
	if priorityA > priorityB {
		return SlotA, nil
	}
	return SlotB, nil
}

// DumpPartitionTable returns the raw cgpt listing for debugging.
func (i *Inspector) DumpPartitionTable(ctx context.Context) (string, error) {
	res, err := i.r.Run(ctx, "cgpt show $(rootdev -s -d)", target.RunOptions{})
	return res.Stdout, err
}

// DumpFirmwareState returns the raw crossystem listing for debugging.
func (i *Inspector) DumpFirmwareState(ctx context.Context) (string, error) {
	res, err := i.r.Run(ctx, "crossystem --all", target.RunOptions{})
	return res.Stdout, err
}
