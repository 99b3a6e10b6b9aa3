package class

import "unsafe"

const storageSlotSize = unsafe.Sizeof((*chainBlock)(nil))

// save records b for release by FinalizeAll. ensureCapacity must have
// succeeded first. r.mu must be held.
func (r *Registry) save(b *chainBlock) {
	r.blocks[r.count] = b
	r.count++
}

// ensureCapacity grows storage by the configured increment when it is full.
// The new backing array replaces the old one, and its unused slots are nil.
// r.mu must be held.
func (r *Registry) ensureCapacity() error {
	if r.count < len(r.blocks) {
		return nil
	}

	capacity := len(r.blocks) + r.config.GrowthIncrement
	h, err := r.alloc.Reserve("class storage", uintptr(capacity)*storageSlotSize)
	if err != nil {
		return err
	}

	grown := make([]*chainBlock, capacity)
	copy(grown, r.blocks[:r.count])
	r.alloc.Release(r.storage)
	r.blocks = grown
	r.storage = h

	return nil
}
