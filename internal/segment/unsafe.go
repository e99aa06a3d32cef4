package segment

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// ptrAt returns an unsafe.Pointer at byte offset off within arena. All
// handles are validated bounds-checked by callers before reaching here;
// this is the one place the zero-copy contract requires raw pointer math.
func ptrAt(arena []byte, off uint64) unsafe.Pointer {
	return unsafe.Pointer(&arena[off])
}

func atomicCAS32(p *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(p, old, new)
}

func atomicStore32(p *uint32, v uint32) {
	atomic.StoreUint32(p, v)
}

func procYield() {
	runtime.Gosched()
}
