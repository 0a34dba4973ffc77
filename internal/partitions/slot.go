// Copyright 2022 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package partitions models the two fixed kernel/rootfs slot pairs of a
// ChromeOS disk and reads their boot state from a device under test.
package partitions

import (
	"fmt"
	"strconv"
	"strings"
)

// Slot is one of the two fixed kernel/rootfs partition sets.
type Slot struct {
	Name      string
	KernelNum int
	RootNum   int
}

var (
	SlotA = Slot{Name: "KERN-A", KernelNum: 2, RootNum: 3}
	SlotB = Slot{Name: "KERN-B", KernelNum: 4, RootNum: 5}
)

func (s Slot) String() string {
	return s.Name
}

// PriorityState is the boot state of one slot as recorded in the GPT.
type PriorityState struct {
	Priority       int
	TriesRemaining int
	Success        bool
}

// UnknownLayoutError reports a root device that belongs to neither slot.
type UnknownLayoutError struct {
	RootPartition string
}

func (e *UnknownLayoutError) Error() string {
	return fmt.Sprintf("root partition %q does not match a known kernel slot", e.RootPartition)
}

func parse(partition string) (device string, delimiter string, number int, err error) {
	device = strings.TrimRight(partition, "0123456789")
	number, err = strconv.Atoi(partition[len(device):])
	if err != nil {
		return "", "", 0, fmt.Errorf("cannot parse %q as a partition: %v", partition, device)
	}
	if strings.HasSuffix(device, "p") {
		return device[:len(device)-1], "p", number, nil
	}
	return device, "", number, nil
}

// slotsFromRootPartition maps the booted root partition to the
// (active, inactive) slot pair.
func slotsFromRootPartition(rootPart string) (active, inactive Slot, err error) {
	_, _, rootNum, err := parse(rootPart)
	if err != nil {
		return Slot{}, Slot{}, &UnknownLayoutError{RootPartition: rootPart}
	}
	switch rootNum {
	case SlotA.RootNum:
		return SlotA, SlotB, nil
	case SlotB.RootNum:
		return SlotB, SlotA, nil
	default:
		return Slot{}, Slot{}, &UnknownLayoutError{RootPartition: rootPart}
	}
}
