package sandbox

import (
	"fmt"

	"botarena/internal/worker/ident"
	appErr "botarena/pkg/errors"
)

// Slot is one per-participant allocation of an isolated OS identity,
// resource-confinement group, and working directory.
type Slot struct {
	Index    int
	Identity ident.Identity
	Cgroup   string
}

// SlotAllocator hands out numbered slots for one match invocation. The base
// offset keeps co-located worker processes on one machine from colliding on
// the same sandbox identities.
type SlotAllocator struct {
	// BaseOffset shifts every slot index, set from the worker's
	// --user-offset flag.
	BaseOffset int

	// MaxSlots bounds how many participants one machine supports.
	MaxSlots int

	// UserPattern and GroupPattern format the slot index into an OS
	// identity, e.g. "bot_%d".
	UserPattern  string
	GroupPattern string

	// CgroupPattern formats the slot index into a confinement group name,
	// e.g. "arena_%d".
	CgroupPattern string
}

// NewSlotAllocator creates an allocator with the fleet's naming scheme.
func NewSlotAllocator(baseOffset, maxSlots int) *SlotAllocator {
	return &SlotAllocator{
		BaseOffset:    baseOffset,
		MaxSlots:      maxSlots,
		UserPattern:   "bot_%d",
		GroupPattern:  "bot_%d",
		CgroupPattern: "arena_%d",
	}
}

// Allocate returns n slots numbered from the base offset. Slot numbering is
// scoped to one match invocation; slots are never shared across
// concurrently running matches.
func (a *SlotAllocator) Allocate(n int) ([]Slot, error) {
	if n <= 0 {
		return nil, appErr.ValidationError("participants", "at least one required")
	}
	if a.MaxSlots > 0 && n > a.MaxSlots {
		return nil, appErr.Newf(appErr.SandboxSetupFailed, "match needs %d slots, machine supports %d", n, a.MaxSlots)
	}
	slots := make([]Slot, n)
	for i := range slots {
		index := a.BaseOffset + i
		slots[i] = Slot{
			Index: index,
			Identity: ident.Identity{
				User:  fmt.Sprintf(a.UserPattern, index),
				Group: fmt.Sprintf(a.GroupPattern, index),
			},
			Cgroup: fmt.Sprintf(a.CgroupPattern, index),
		}
	}
	return slots, nil
}
