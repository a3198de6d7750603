package scheduler

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// regCache models the operand-capture register cache: a small
// fully-associative LRU set of recently read integer physical registers.
// A read that hits is served from the capture flops and does not occupy a
// register-file read port.
type regCache struct {
	directory *akitacache.DirectoryImpl
}

// newRegCache creates a register cache holding capacity integer registers.
func newRegCache(capacity int) *regCache {
	return &regCache{
		directory: akitacache.NewDirectory(
			1,
			capacity,
			1,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// lookupOrInsert reports whether the register was resident. On a miss the
// register is inserted, evicting the least recently used entry.
func (rc *regCache) lookupOrInsert(flatIdx int) bool {
	addr := uint64(flatIdx)

	block := rc.directory.Lookup(0, addr)
	if block != nil && block.IsValid {
		rc.directory.Visit(block)
		return true
	}

	victim := rc.directory.FindVictim(addr)
	victim.Tag = addr
	victim.IsValid = true
	rc.directory.Visit(victim)
	return false
}
