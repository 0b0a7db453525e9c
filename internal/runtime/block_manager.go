// Package runtime provides memory block management and pointer operations.
// This module implements block tracking, pointer validation, and memory
// layout management for region-based allocation, including the blocks that
// back internal/gc collector objects (see BlockFlagGCManaged).
package runtime

import (
	"fmt"
	"sync"
	"unsafe"
)

// BlockHeader represents metadata for allocated memory blocks
type BlockHeader struct {
	Magic    uint32       // Magic number for corruption detection
	Size     uint32       // Size of user data (excluding header)
	TypeID   uint32       // Type identifier
	RefCount uint32       // Reference count
	Flags    BlockFlag    // Block flags
	Prev     *BlockHeader // Previous block in allocation order
	Next     *BlockHeader // Next block in allocation order
	Guard    uint32       // Guard value for overflow detection
}

// BlockFlag represents flags for memory blocks
type BlockFlag uint32

const (
	BlockFlagNone        BlockFlag = 0
	BlockFlagPinned      BlockFlag = 1 << 0 // Block is pinned in memory
	BlockFlagLocked      BlockFlag = 1 << 1 // Block is locked for exclusive access
	BlockFlagMarked      BlockFlag = 1 << 2 // Block is marked for GC
	BlockFlagFinalizable BlockFlag = 1 << 3 // Block has finalizer
	BlockFlagLarge       BlockFlag = 1 << 4 // Large object allocation
	BlockFlagAtomic      BlockFlag = 1 << 5 // Block contains no pointers
	BlockFlagScanned     BlockFlag = 1 << 6 // Block has been scanned
	BlockFlagRelocated   BlockFlag = 1 << 7 // Block has been relocated
	BlockFlagGCManaged   BlockFlag = 1 << 8 // Block backs an internal/gc collector object
)

// BlockManager manages memory blocks within regions
type BlockManager struct {
	mutex        sync.RWMutex
	blockMap     map[unsafe.Pointer]*BlockHeader // Map pointers to headers
	freeBlocks   map[RegionSize][]*BlockHeader   // Free blocks by size
	largeBlocks  []*BlockHeader                  // Large object blocks
	pinnedBlocks []*BlockHeader                  // Pinned blocks
	statistics   BlockStatistics                 // Block statistics
	policy       BlockPolicy                     // Block management policy
}

// BlockStatistics tracks memory block usage statistics
type BlockStatistics struct {
	TotalBlocks      uint64 // Total number of blocks
	AllocatedBlocks  uint64 // Currently allocated blocks
	FreeBlocks       uint64 // Currently free blocks
	LargeBlocks      uint64 // Large object blocks
	PinnedBlocks     uint64 // Pinned blocks
	TotalBlockMemory uint64 // Total memory in all blocks
	AverageBlockSize uint64 // Average block size
	LargestBlock     uint64 // Largest block size
	SmallestBlock    uint64 // Smallest block size
	FragmentedMemory uint64 // Memory lost to fragmentation
	OverheadMemory   uint64 // Memory overhead from headers
	GCManagedBlocks  uint64 // Blocks currently backing a collector object
}

// BlockPolicy defines block management policies
type BlockPolicy struct {
	MaxBlockSize       RegionSize // Maximum block size
	MinBlockSize       RegionSize // Minimum block size
	LargeObjectSize    RegionSize // Threshold for large objects
	MaxFragmentation   float64    // Maximum fragmentation ratio
	EnableCoalescing   bool       // Enable block coalescing
	EnableSplitting    bool       // Enable block splitting
	EnableCompaction   bool       // Enable memory compaction
	EnableGuardPages   bool       // Enable guard pages
	EnableCanaries     bool       // Enable canary values
	EnableStackTrace   bool       // Enable stack trace capture
	MaxStackDepth      int        // Maximum stack trace depth
	RefCountingEnabled bool       // Enable reference counting
	FinalizersEnabled  bool       // Enable finalizers
}

// PointerInfo contains information about a pointer
type PointerInfo struct {
	Address     unsafe.Pointer // Pointer address
	Size        RegionSize     // Allocated size
	TypeInfo    *TypeInfo      // Type information
	RefCount    uint32         // Reference count
	IsValid     bool           // Pointer is valid
	IsAllocated bool           // Pointer is allocated
	IsPinned    bool           // Pointer is pinned
	IsLocked    bool           // Pointer is locked
	IsGCManaged bool           // Block backs an internal/gc collector object
	Region      *Region        // Owning region
	Block       *BlockHeader   // Block header
}

// Constants for block management
const (
	BlockHeaderSize      = unsafe.Sizeof(BlockHeader{})
	BlockMagicValue      = 0xDEADBEEF
	BlockGuardValue      = 0xCAFEBABE
	MaxStackTraceSize    = 32
	MinBlockSize         = 16
	LargeObjectThreshold = 8192
)

// NewBlockManager creates a new block manager
func NewBlockManager(policy BlockPolicy) *BlockManager {
	return &BlockManager{
		blockMap:     make(map[unsafe.Pointer]*BlockHeader),
		freeBlocks:   make(map[RegionSize][]*BlockHeader),
		largeBlocks:  make([]*BlockHeader, 0),
		pinnedBlocks: make([]*BlockHeader, 0),
		policy:       policy,
	}
}

// AllocateBlock allocates a new memory block
func (bm *BlockManager) AllocateBlock(region *Region, size RegionSize, alignment RegionAlignment, typeInfo *TypeInfo) (unsafe.Pointer, error) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	// Calculate total size including header
	headerSize := RegionSize(BlockHeaderSize)
	totalSize := headerSize + size

	// Align total size
	if alignment > 0 {
		totalSize = RegionSize(alignUp(uintptr(totalSize), uintptr(alignment)))
	}

	// Check if this is a large object allocation
	isLarge := size >= bm.policy.LargeObjectSize

	// Try to find a suitable free block first
	header := bm.findFreeBlock(totalSize, isLarge)
	if header == nil {
		// Allocate new memory from region
		ptr, err := region.allocateMemory(totalSize, alignment)
		if err != nil {
			return nil, err
		}

		// Initialize block header
		header = (*BlockHeader)(ptr)
		header.Magic = BlockMagicValue
		header.Size = uint32(size)
		header.RefCount = 1
		header.Guard = BlockGuardValue

		if typeInfo != nil {
			header.TypeID = typeInfo.ID
		}

		if isLarge {
			header.Flags |= BlockFlagLarge
		}
	} else {
		// Reuse existing free block
		bm.removeFreeBlock(header)

		// Split block if necessary
		if bm.policy.EnableSplitting {
			bm.splitBlock(header, size)
		}

		// Reset header
		header.Size = uint32(size)
		header.RefCount = 1
		header.Flags = BlockFlagNone

		if isLarge {
			header.Flags |= BlockFlagLarge
		}
	}

	// Set type information
	if typeInfo != nil {
		header.TypeID = typeInfo.ID

		// Set atomic flag if type contains no pointers
		if !typeInfo.HasPointers {
			header.Flags |= BlockFlagAtomic
		}
	}

	// Calculate user data pointer
	userPtr := unsafe.Pointer(uintptr(unsafe.Pointer(header)) + uintptr(headerSize))

	// Register block
	bm.blockMap[userPtr] = header

	// Add to appropriate lists
	if isLarge {
		bm.largeBlocks = append(bm.largeBlocks, header)
		bm.statistics.LargeBlocks++
	}

	// Update statistics
	bm.statistics.TotalBlocks++
	bm.statistics.AllocatedBlocks++
	bm.statistics.TotalBlockMemory += uint64(totalSize)
	bm.updateStatistics()

	// Initialize memory if needed
	if bm.policy.EnableCanaries {
		bm.writeCanaries(userPtr, size)
	}

	return userPtr, nil
}

// DeallocateBlock deallocates a memory block
func (bm *BlockManager) DeallocateBlock(ptr unsafe.Pointer) error {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	// Find block header
	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	// Validate block header
	if header.Magic != BlockMagicValue {
		return fmt.Errorf("corrupted block header at %p", ptr)
	}

	if header.Guard != BlockGuardValue {
		return fmt.Errorf("buffer overflow detected at %p", ptr)
	}

	// Check canaries if enabled
	if bm.policy.EnableCanaries {
		if !bm.validateCanaries(ptr, RegionSize(header.Size)) {
			return fmt.Errorf("buffer overflow detected via canaries at %p", ptr)
		}
	}

	// Check reference count
	if bm.policy.RefCountingEnabled {
		if header.RefCount > 1 {
			header.RefCount--
			return nil // Block still has references
		}
	}

	// Remove from block map
	delete(bm.blockMap, ptr)

	// Remove from special lists
	if header.Flags&BlockFlagLarge != 0 {
		bm.removeLargeBlock(header)
		bm.statistics.LargeBlocks--
	}

	if header.Flags&BlockFlagPinned != 0 {
		bm.removePinnedBlock(header)
		bm.statistics.PinnedBlocks--
	}

	if header.Flags&BlockFlagGCManaged != 0 {
		bm.statistics.GCManagedBlocks--
	}

	// Add to free list
	bm.addFreeBlock(header)

	// Try to coalesce with adjacent free blocks
	if bm.policy.EnableCoalescing {
		bm.coalesceBlocks(header)
	}

	// Update statistics
	bm.statistics.AllocatedBlocks--
	bm.statistics.FreeBlocks++
	bm.statistics.TotalBlockMemory -= uint64(RegionSize(header.Size) + RegionSize(BlockHeaderSize))
	bm.updateStatistics()

	return nil
}

// GetPointerInfo returns information about a pointer
func (bm *BlockManager) GetPointerInfo(ptr unsafe.Pointer) *PointerInfo {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	info := &PointerInfo{
		Address: ptr,
	}

	// Find block header
	header, exists := bm.blockMap[ptr]
	if !exists {
		info.IsValid = false
		return info
	}

	// Validate block
	if header.Magic != BlockMagicValue {
		info.IsValid = false
		return info
	}

	// Fill in information
	info.IsValid = true
	info.IsAllocated = true
	info.Size = RegionSize(header.Size)
	info.RefCount = header.RefCount
	info.Block = header
	info.IsPinned = (header.Flags & BlockFlagPinned) != 0
	info.IsLocked = (header.Flags & BlockFlagLocked) != 0
	info.IsGCManaged = (header.Flags & BlockFlagGCManaged) != 0

	return info
}

// MarkGCManaged flags ptr's block as backing an internal/gc collector
// object. A collector that wants its object storage carved from region
// blocks rather than from internal/allocator's pools calls this right after
// AllocateBlock so GetStatistics and GetPointerInfo can report on the
// collector's share of block-managed memory.
func (bm *BlockManager) MarkGCManaged(ptr unsafe.Pointer) error {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	if header.Flags&BlockFlagGCManaged == 0 {
		header.Flags |= BlockFlagGCManaged
		bm.statistics.GCManagedBlocks++
	}

	return nil
}

// UnmarkGCManaged clears the GC-managed flag set by MarkGCManaged, typically
// just before the collector's block is handed back via DeallocateBlock.
func (bm *BlockManager) UnmarkGCManaged(ptr unsafe.Pointer) error {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	if header.Flags&BlockFlagGCManaged != 0 {
		header.Flags &^= BlockFlagGCManaged
		bm.statistics.GCManagedBlocks--
	}

	return nil
}

// PinBlock pins a block in memory
func (bm *BlockManager) PinBlock(ptr unsafe.Pointer) error {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	if header.Flags&BlockFlagPinned == 0 {
		header.Flags |= BlockFlagPinned
		bm.pinnedBlocks = append(bm.pinnedBlocks, header)
		bm.statistics.PinnedBlocks++
	}

	return nil
}

// UnpinBlock unpins a block
func (bm *BlockManager) UnpinBlock(ptr unsafe.Pointer) error {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	if header.Flags&BlockFlagPinned != 0 {
		header.Flags &^= BlockFlagPinned
		bm.removePinnedBlock(header)
		bm.statistics.PinnedBlocks--
	}

	return nil
}

// AddReference adds a reference to a block
func (bm *BlockManager) AddReference(ptr unsafe.Pointer) error {
	if !bm.policy.RefCountingEnabled {
		return nil
	}

	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	header.RefCount++
	return nil
}

// RemoveReference removes a reference from a block
func (bm *BlockManager) RemoveReference(ptr unsafe.Pointer) error {
	if !bm.policy.RefCountingEnabled {
		return nil
	}

	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	if header.RefCount > 0 {
		header.RefCount--

		// Deallocate if no references remain
		if header.RefCount == 0 {
			// Convert to user pointer for deallocation
			userPtr := unsafe.Pointer(uintptr(unsafe.Pointer(header)) + uintptr(BlockHeaderSize))
			bm.mutex.Unlock() // Unlock before calling DeallocateBlock
			return bm.DeallocateBlock(userPtr)
		}
	}

	return nil
}

// ValidatePointer validates a pointer
func (bm *BlockManager) ValidatePointer(ptr unsafe.Pointer) error {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	header, exists := bm.blockMap[ptr]
	if !exists {
		return fmt.Errorf("invalid pointer: %p", ptr)
	}

	if header.Magic != BlockMagicValue {
		return fmt.Errorf("corrupted block header at %p", ptr)
	}

	if header.Guard != BlockGuardValue {
		return fmt.Errorf("buffer overflow detected at %p", ptr)
	}

	if bm.policy.EnableCanaries {
		if !bm.validateCanaries(ptr, RegionSize(header.Size)) {
			return fmt.Errorf("buffer overflow detected via canaries at %p", ptr)
		}
	}

	return nil
}

// GetStatistics returns current block statistics
func (bm *BlockManager) GetStatistics() BlockStatistics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	return bm.statistics
}

// Helper methods

// findFreeBlock finds a suitable free block
func (bm *BlockManager) findFreeBlock(size RegionSize, isLarge bool) *BlockHeader {
	if isLarge {
		// Search large blocks first
		for _, header := range bm.largeBlocks {
			if RegionSize(header.Size) >= size {
				return header
			}
		}
	}

	// Search free blocks by size
	for blockSize, blocks := range bm.freeBlocks {
		if blockSize >= size && len(blocks) > 0 {
			return blocks[0]
		}
	}

	return nil
}

// addFreeBlock adds a block to the free list
func (bm *BlockManager) addFreeBlock(header *BlockHeader) {
	size := RegionSize(header.Size)
	bm.freeBlocks[size] = append(bm.freeBlocks[size], header)
}

// removeFreeBlock removes a block from the free list
func (bm *BlockManager) removeFreeBlock(header *BlockHeader) {
	size := RegionSize(header.Size)
	blocks := bm.freeBlocks[size]

	for i, block := range blocks {
		if block == header {
			// Remove by swapping with last element
			blocks[i] = blocks[len(blocks)-1]
			bm.freeBlocks[size] = blocks[:len(blocks)-1]
			break
		}
	}
}

// removeLargeBlock removes a block from the large blocks list
func (bm *BlockManager) removeLargeBlock(header *BlockHeader) {
	for i, block := range bm.largeBlocks {
		if block == header {
			bm.largeBlocks[i] = bm.largeBlocks[len(bm.largeBlocks)-1]
			bm.largeBlocks = bm.largeBlocks[:len(bm.largeBlocks)-1]
			break
		}
	}
}

// removePinnedBlock removes a block from the pinned blocks list
func (bm *BlockManager) removePinnedBlock(header *BlockHeader) {
	for i, block := range bm.pinnedBlocks {
		if block == header {
			bm.pinnedBlocks[i] = bm.pinnedBlocks[len(bm.pinnedBlocks)-1]
			bm.pinnedBlocks = bm.pinnedBlocks[:len(bm.pinnedBlocks)-1]
			break
		}
	}
}

// splitBlock splits a block if it's significantly larger than needed
func (bm *BlockManager) splitBlock(header *BlockHeader, requestedSize RegionSize) {
	currentSize := RegionSize(header.Size)
	if currentSize >= requestedSize+MinBlockSize+RegionSize(BlockHeaderSize) {
		// Calculate split point
		splitOffset := RegionSize(BlockHeaderSize) + requestedSize

		// Create new header for the second part
		newHeaderPtr := unsafe.Pointer(uintptr(unsafe.Pointer(header)) + uintptr(splitOffset))
		newHeader := (*BlockHeader)(newHeaderPtr)

		// Initialize new header
		newHeader.Magic = BlockMagicValue
		newHeader.Size = uint32(currentSize - splitOffset)
		newHeader.Guard = BlockGuardValue
		newHeader.RefCount = 0
		newHeader.Flags = BlockFlagNone

		// Update original header
		header.Size = uint32(requestedSize)

		// Add new block to free list
		bm.addFreeBlock(newHeader)
		bm.statistics.FreeBlocks++
	}
}

// coalesceBlocks coalesces adjacent free blocks
func (bm *BlockManager) coalesceBlocks(header *BlockHeader) {
	// This would require maintaining a doubly-linked list of all blocks
	// For now, we'll implement a simplified version
	// In a real implementation, you'd walk adjacent blocks and merge them
}

// writeCanaries writes canary values around a block
func (bm *BlockManager) writeCanaries(ptr unsafe.Pointer, size RegionSize) {
	// Write canary before data
	canaryPtr := unsafe.Pointer(uintptr(ptr) - 4)
	*(*uint32)(canaryPtr) = 0xCAFEBABE

	// Write canary after data
	canaryPtr = unsafe.Pointer(uintptr(ptr) + uintptr(size))
	*(*uint32)(canaryPtr) = 0xDEADBEEF
}

// validateCanaries validates canary values
func (bm *BlockManager) validateCanaries(ptr unsafe.Pointer, size RegionSize) bool {
	// Check canary before data
	canaryPtr := unsafe.Pointer(uintptr(ptr) - 4)
	if *(*uint32)(canaryPtr) != 0xCAFEBABE {
		return false
	}

	// Check canary after data
	canaryPtr = unsafe.Pointer(uintptr(ptr) + uintptr(size))
	if *(*uint32)(canaryPtr) != 0xDEADBEEF {
		return false
	}

	return true
}

// updateStatistics updates block statistics
func (bm *BlockManager) updateStatistics() {
	if bm.statistics.TotalBlocks > 0 {
		bm.statistics.AverageBlockSize = bm.statistics.TotalBlockMemory / bm.statistics.TotalBlocks
	}

	// Calculate overhead
	headerOverhead := bm.statistics.TotalBlocks * uint64(BlockHeaderSize)
	bm.statistics.OverheadMemory = headerOverhead

	// Calculate fragmentation (simplified)
	if bm.statistics.FreeBlocks > 0 && bm.statistics.TotalBlockMemory > 0 {
		// This is a simplified fragmentation calculation
		// Real implementation would be more sophisticated
		fragmented := bm.statistics.FreeBlocks * uint64(MinBlockSize)
		bm.statistics.FragmentedMemory = fragmented
	}
}

// allocateMemory satisfies a BlockManager's request for raw region-backed
// memory by delegating to the region's own free-list allocator (Allocate in
// region_memory.go). BlockManager initializes the header at the returned
// address itself, so no TypeInfo is threaded through here.
func (r *Region) allocateMemory(size RegionSize, alignment RegionAlignment) (unsafe.Pointer, error) {
	return r.Allocate(size, alignment, nil)
}
