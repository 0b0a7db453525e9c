// Package runtime provides region-based memory allocation system.
// This module implements a region allocator whose compaction can hand off
// to an external collector (see RegionCollector). internal/gc and
// internal/allocator do not allocate from it.
package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// RegionID represents a unique identifier for memory regions
type RegionID uint64

// RegionSize represents memory region size in bytes
type RegionSize uintptr

// RegionAlignment represents memory alignment requirements
type RegionAlignment uintptr

const (
	// Default configuration constants
	DefaultRegionSize RegionSize      = 64 * 1024 * 1024   // 64MB default region
	MinRegionSize     RegionSize      = 4 * 1024           // 4KB minimum region
	MaxRegionSize     RegionSize      = 1024 * 1024 * 1024 // 1GB maximum region
	DefaultAlignment  RegionAlignment = 8                  // 8-byte alignment
	MaxAlignment      RegionAlignment = 4096               // 4KB maximum alignment
	RegionHeaderSize  RegionSize      = 64                 // Header metadata size

	// Region states
	RegionUninitialized = 0
	RegionActive        = 1
	RegionFull          = 2
	RegionFreed         = 3
	RegionCorrupted     = 4
)

// RegionHeader contains metadata for each memory region
type RegionHeader struct {
	ID         RegionID        // Unique region identifier
	Size       RegionSize      // Total region size
	Used       RegionSize      // Currently used bytes
	Free       RegionSize      // Available bytes
	Alignment  RegionAlignment // Memory alignment
	State      uint32          // Region state (atomic)
	RefCount   int64           // Reference count (atomic)
	AllocCount uint64          // Number of allocations
	FreeCount  uint64          // Number of deallocations
	CreatedAt  int64           // Creation timestamp
	LastAccess int64           // Last access timestamp
	Parent     *Region         // Parent region reference
	Children   []*Region       // Child regions
	FreeList   *FreeBlock      // Free block list
	AllocList  *AllocBlock     // Allocation block list
	Magic      uint64          // Header integrity check
	Checksum   uint64          // Header checksum
}

// Region represents a memory region with lifecycle management
type Region struct {
	Header    *RegionHeader    // Region metadata
	Data      unsafe.Pointer   // Raw memory data
	backing   []byte           // Backing slice to keep memory alive
	Mutex     sync.RWMutex     // Thread-safe access
	Stats     *RegionStats     // Performance statistics
	Policy    *RegionPolicy    // Allocation policy
	Observers []RegionObserver // Event observers
	Collector RegionCollector  // Optional external collector driving generational/incremental/concurrent compaction
}

// RegionCollector lets a region's generational, incremental, and concurrent
// compaction strategies delegate to an external collector instead of
// falling back to mark-and-sweep. internal/gc.Collector satisfies this
// structurally (same Cycle() (freed uint64) shape used by
// internal/allocator.Collector), without this package importing internal/gc.
type RegionCollector interface {
	Cycle() (freed uint64)
}

// FreeBlock represents a free memory block in the region
type FreeBlock struct {
	Size      RegionSize // Block size
	Offset    uintptr    // Offset from region start
	Next      *FreeBlock // Next free block
	Prev      *FreeBlock // Previous free block
	Coalesced bool       // Whether block was coalesced
}

// AllocBlock represents an allocated memory block
type AllocBlock struct {
	Size       RegionSize      // Allocated size
	Offset     uintptr         // Offset from region start
	Alignment  RegionAlignment // Block alignment
	TypeInfo   *TypeInfo       // Type information
	StackTrace []uintptr       // Allocation stack trace
	Timestamp  int64           // Allocation timestamp
	Next       *AllocBlock     // Next allocation
	Prev       *AllocBlock     // Previous allocation
}

// TypeInfo provides type metadata for allocated blocks
type TypeInfo struct {
	ID          uint32       // Type identifier
	Name        string       // Type name
	Size        uintptr      // Type size
	Alignment   uintptr      // Type alignment
	HasPointers bool         // Type contains pointers
	Fields      []FieldInfo  // Field information
	Methods     []MethodInfo // Method information
}

// MethodInfo describes method information
type MethodInfo struct {
	Name      string  // Method name
	Signature string  // Method signature
	Address   uintptr // Method address
}

// FieldInfo describes field information
type FieldInfo struct {
	Name   string  // Field name
	Offset uintptr // Field offset
	Size   uintptr // Field size
}

// RegionStats tracks region performance metrics
type RegionStats struct {
	TotalAllocations    uint64  // Total allocation count
	TotalDeallocations  uint64  // Total deallocation count
	TotalBytesAllocated uint64  // Total bytes allocated
	TotalBytesFreed     uint64  // Total bytes freed
	PeakUsage           uint64  // Peak memory usage
	FragmentationRatio  float64 // Memory fragmentation ratio
	AverageAllocSize    float64 // Average allocation size
	AllocationRate      float64 // Allocations per second
	DeallocationRate    float64 // Deallocations per second
	MemoryPressure      float64 // Memory pressure indicator
	GCPressure          float64 // GC pressure (should be 0)
	LastCompaction      int64   // Last compaction timestamp
	CompactionCount     uint64  // Number of compactions
}

// RegionPolicy defines allocation policies and constraints
type RegionPolicy struct {
	MaxAllocations     uint64           // Maximum allocations
	MaxMemoryUsage     RegionSize       // Maximum memory usage
	AllocationStrategy AllocStrategy    // Allocation strategy
	CompactionPolicy   CompactionPolicy // Compaction policy
	ShrinkPolicy       ShrinkPolicy     // Shrink policy
	GrowthPolicy       GrowthPolicy     // Growth policy
	AlignmentPolicy    AlignmentPolicy  // Alignment policy
	SecurityPolicy     SecurityPolicy   // Security policy
}

// AllocStrategy defines allocation strategies
type AllocStrategy int

const (
	FirstFit    AllocStrategy = iota // First fit strategy
	BestFit                          // Best fit strategy
	WorstFit                         // Worst fit strategy
	NextFit                          // Next fit strategy
	QuickFit                         // Quick fit strategy
	BuddySystem                      // Buddy system strategy
)

// CompactionPolicy defines memory compaction behavior
type CompactionPolicy struct {
	Enabled           bool                   // Enable compaction
	ThresholdRatio    float64                // Fragmentation threshold
	MinFreeBlocks     int                    // Minimum free blocks for compaction
	MaxCompactionTime int64                  // Maximum compaction time (nanoseconds)
	Strategy          CompactionStrategyType // Compaction strategy
}

// CompactionStrategyType defines compaction strategies
type CompactionStrategyType int

const (
	MarkAndSweep   CompactionStrategyType = iota // Mark and sweep
	CopyingGC                                    // Copying collection
	GenerationalGC                               // Generational collection
	IncrementalGC                                // Incremental collection
	ConcurrentGC                                 // Concurrent collection
)

// ShrinkPolicy defines region shrinking behavior
type ShrinkPolicy struct {
	Enabled        bool       // Enable shrinking
	ThresholdRatio float64    // Usage threshold for shrinking
	MinRegionSize  RegionSize // Minimum region size
	ShrinkFactor   float64    // Shrink factor (0.0-1.0)
}

// GrowthPolicy defines region growth behavior
type GrowthPolicy struct {
	Enabled        bool           // Enable growth
	GrowthFactor   float64        // Growth factor (>1.0)
	MaxRegionSize  RegionSize     // Maximum region size
	GrowthStrategy GrowthStrategy // Growth strategy
}

// GrowthStrategy defines growth strategies
type GrowthStrategy int

const (
	ExponentialGrowth GrowthStrategy = iota // Exponential growth
	LinearGrowth                            // Linear growth
	AdaptiveGrowth                          // Adaptive growth
)

// AlignmentPolicy defines memory alignment policies
type AlignmentPolicy struct {
	DefaultAlignment RegionAlignment            // Default alignment
	TypeAlignment    map[string]RegionAlignment // Type-specific alignment
	MinAlignment     RegionAlignment            // Minimum alignment
	MaxAlignment     RegionAlignment            // Maximum alignment
}

// SecurityPolicy defines security constraints
type SecurityPolicy struct {
	EnableCanaries   bool // Enable stack canaries
	EnableGuardPages bool // Enable guard pages
	EnableEncryption bool // Enable memory encryption
	EnableZeroOnFree bool // Zero memory on free
	EnableStackProbe bool // Enable stack probing
	EnableHeapSpray  bool // Enable heap spray detection
}

// RegionObserver interface for region event observation
type RegionObserver interface {
	OnRegionCreated(region *Region)
	OnRegionDestroyed(region *Region)
	OnAllocation(region *Region, block *AllocBlock)
	OnDeallocation(region *Region, block *AllocBlock)
	OnCompaction(region *Region, before *RegionStats, after *RegionStats)
	OnGrowth(region *Region, oldSize RegionSize, newSize RegionSize)
	OnShrink(region *Region, oldSize RegionSize, newSize RegionSize)
	OnError(region *Region, err error)
}

// RegionAllocator manages multiple memory regions
type RegionAllocator struct {
	regions       map[RegionID]*Region // Active regions
	freeRegions   []*Region            // Free regions pool
	stats         *AllocatorStats      // Global statistics
	policy        *AllocatorPolicy     // Global policy
	mutex         sync.RWMutex         // Thread-safe access
	nextID        uint64               // Next region ID (atomic)
	totalMemory   uint64               // Total allocated memory (atomic)
	peakMemory    uint64               // Peak memory usage (atomic)
	activeRegions int64                // Active region count (atomic)
	observers     []AllocatorObserver  // Event observers
}

// AllocatorStats tracks global allocator statistics
type AllocatorStats struct {
	TotalRegions          uint64  // Total regions created
	ActiveRegions         uint64  // Currently active regions
	TotalMemoryUsage      uint64  // Total memory usage
	PeakMemoryUsage       uint64  // Peak memory usage
	SystemMemoryUsage     uint64  // System memory usage
	FragmentationRatio    float64 // Global fragmentation ratio
	AllocationRate        float64 // Global allocation rate
	DeallocationRate      float64 // Global deallocation rate
	CompactionRate        float64 // Compaction rate
	RegionCreationRate    float64 // Region creation rate
	RegionDestructionRate float64 // Region destruction rate
	MemoryPressure        float64 // System memory pressure
	LoadFactor            float64 // System load factor
}

// AllocatorPolicy defines global allocator policies
type AllocatorPolicy struct {
	MaxRegions              uint64           // Maximum number of regions
	MaxTotalMemory          RegionSize       // Maximum total memory
	DefaultRegionSize       RegionSize       // Default region size
	RegionSizeGrowth        float64          // Region size growth factor
	CompactionPolicy        CompactionPolicy // Global compaction policy
	MemoryPressureThreshold float64          // Memory pressure threshold
	LoadBalancing           bool             // Enable load balancing
	PreallocationSize       RegionSize       // Preallocation size
}

// AllocatorObserver interface for allocator event observation
type AllocatorObserver interface {
	OnRegionAllocated(allocator *RegionAllocator, region *Region)
	OnRegionFreed(allocator *RegionAllocator, region *Region)
	OnMemoryPressure(allocator *RegionAllocator, pressure float64)
	OnCompactionRequired(allocator *RegionAllocator, regions []*Region)
	OnPerformanceAlert(allocator *RegionAllocator, metric string, value float64)
}

// NewRegionAllocator creates a new region allocator
func NewRegionAllocator(policy *AllocatorPolicy) *RegionAllocator {
	if policy == nil {
		policy = DefaultAllocatorPolicy()
	}

	return &RegionAllocator{
		regions:     make(map[RegionID]*Region),
		freeRegions: make([]*Region, 0),
		stats:       NewAllocatorStats(),
		policy:      policy,
		nextID:      1,
		observers:   make([]AllocatorObserver, 0),
	}
}

// DefaultAllocatorPolicy returns default allocator policy
func DefaultAllocatorPolicy() *AllocatorPolicy {
	return &AllocatorPolicy{
		MaxRegions:        1000,
		MaxTotalMemory:    RegionSize(16 * 1024 * 1024 * 1024), // 16GB
		DefaultRegionSize: DefaultRegionSize,
		RegionSizeGrowth:  2.0,
		CompactionPolicy: CompactionPolicy{
			Enabled:           true,
			ThresholdRatio:    0.3,
			MinFreeBlocks:     10,
			MaxCompactionTime: 100000000, // 100ms
			Strategy:          MarkAndSweep,
		},
		MemoryPressureThreshold: 0.8,
		LoadBalancing:           true,
		PreallocationSize:       RegionSize(256 * 1024 * 1024), // 256MB
	}
}

// NewAllocatorStats creates new allocator statistics
func NewAllocatorStats() *AllocatorStats {
	return &AllocatorStats{}
}

// AllocateRegion allocates a new memory region
func (ra *RegionAllocator) AllocateRegion(size RegionSize, policy *RegionPolicy) (*Region, error) {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	// Validate size constraints
	if size < MinRegionSize {
		return nil, fmt.Errorf("region size %d below minimum %d", size, MinRegionSize)
	}
	if size > MaxRegionSize {
		return nil, fmt.Errorf("region size %d exceeds maximum %d", size, MaxRegionSize)
	}

	// Check global constraints
	if uint64(len(ra.regions)) >= ra.policy.MaxRegions {
		return nil, fmt.Errorf("maximum regions %d exceeded", ra.policy.MaxRegions)
	}

	totalMemory := atomic.LoadUint64(&ra.totalMemory)
	if RegionSize(totalMemory)+size > ra.policy.MaxTotalMemory {
		return nil, fmt.Errorf("total memory limit exceeded")
	}

	// Try to reuse free region
	if len(ra.freeRegions) > 0 {
		for i, freeRegion := range ra.freeRegions {
			if freeRegion.Header.Size >= size {
				// Remove from free list
				ra.freeRegions = append(ra.freeRegions[:i], ra.freeRegions[i+1:]...)

				// Reset and reuse region
				err := ra.resetRegion(freeRegion, size, policy)
				if err != nil {
					continue // Try next free region
				}

				ra.regions[freeRegion.Header.ID] = freeRegion
				atomic.AddInt64(&ra.activeRegions, 1)

				// Notify observers
				for _, observer := range ra.observers {
					observer.OnRegionAllocated(ra, freeRegion)
				}

				return freeRegion, nil
			}
		}
	}

	// Allocate new region
	region, err := ra.allocateNewRegion(size, policy)
	if err != nil {
		return nil, err
	}

	// Register region
	ra.regions[region.Header.ID] = region
	atomic.AddUint64(&ra.totalMemory, uint64(size))
	atomic.AddInt64(&ra.activeRegions, 1)

	// Update peak memory
	totalMem := atomic.LoadUint64(&ra.totalMemory)
	for {
		peak := atomic.LoadUint64(&ra.peakMemory)
		if totalMem <= peak || atomic.CompareAndSwapUint64(&ra.peakMemory, peak, totalMem) {
			break
		}
	}

	// Update statistics
	atomic.AddUint64(&ra.stats.TotalRegions, 1)
	atomic.AddUint64(&ra.stats.ActiveRegions, 1)

	// Notify observers
	for _, observer := range ra.observers {
		observer.OnRegionAllocated(ra, region)
	}

	return region, nil
}

// allocateNewRegion allocates a new memory region using system calls
func (ra *RegionAllocator) allocateNewRegion(size RegionSize, policy *RegionPolicy) (*Region, error) {
	// Generate unique region ID
	id := RegionID(atomic.AddUint64(&ra.nextID, 1))

	// Allocate memory using direct system call (platform-specific)
	backingSlice, offset, err := ra.allocateSystemMemory(size)
	if err != nil {
		return nil, fmt.Errorf("system memory allocation failed: %v", err)
	}

	// Initialize region header
	header := &RegionHeader{
		ID:         id,
		Size:       size,
		Used:       RegionHeaderSize,
		Free:       size - RegionHeaderSize,
		Alignment:  DefaultAlignment,
		State:      RegionActive,
		RefCount:   1,
		CreatedAt:  getCurrentTimestamp(),
		LastAccess: getCurrentTimestamp(),
		Magic:      0xDEADBEEFCAFEBABE,
	}

	// Apply policy settings
	if policy != nil {
		if policy.AlignmentPolicy.DefaultAlignment > 0 {
			header.Alignment = policy.AlignmentPolicy.DefaultAlignment
		}
	} else {
		policy = ra.getDefaultRegionPolicy()
	}

	// Calculate header checksum
	header.Checksum = ra.calculateHeaderChecksum(header)

	// Create region statistics
	stats := &RegionStats{}

	// Initialize free list with single large block
	freeBlock := &FreeBlock{
		Size:   size - RegionHeaderSize,
		Offset: uintptr(RegionHeaderSize),
		Next:   nil,
		Prev:   nil,
	}
	header.FreeList = freeBlock

	// Create region
	region := &Region{
		Header:    header,
		Data:      unsafe.Add(unsafe.Pointer(unsafe.SliceData(backingSlice)), int(offset)),
		backing:   backingSlice,
		Stats:     stats,
		Policy:    policy,
		Observers: make([]RegionObserver, 0),
	}

	// Set parent reference
	header.Parent = region

	return region, nil
}

// resetRegion resets a free region for reuse
func (ra *RegionAllocator) resetRegion(region *Region, size RegionSize, policy *RegionPolicy) error {
	region.Mutex.Lock()
	defer region.Mutex.Unlock()

	// Verify region state
	if atomic.LoadUint32(&region.Header.State) != RegionFreed {
		return fmt.Errorf("region not in freed state")
	}

	// Reset header
	region.Header.Used = RegionHeaderSize
	region.Header.Free = size - RegionHeaderSize
	region.Header.AllocCount = 0
	region.Header.FreeCount = 0
	region.Header.LastAccess = getCurrentTimestamp()
	atomic.StoreUint32(&region.Header.State, RegionActive)
	atomic.StoreInt64(&region.Header.RefCount, 1)

	// Reset statistics
	region.Stats = &RegionStats{}

	// Reset free list
	freeBlock := &FreeBlock{
		Size:   size - RegionHeaderSize,
		Offset: uintptr(RegionHeaderSize),
		Next:   nil,
		Prev:   nil,
	}
	region.Header.FreeList = freeBlock
	region.Header.AllocList = nil

	// Update policy
	if policy != nil {
		region.Policy = policy
	}

	// Update checksum
	region.Header.Checksum = ra.calculateHeaderChecksum(region.Header)

	return nil
}

// getDefaultRegionPolicy returns default region policy
func (ra *RegionAllocator) getDefaultRegionPolicy() *RegionPolicy {
	return &RegionPolicy{
		MaxAllocations:     10000,
		MaxMemoryUsage:     ra.policy.DefaultRegionSize,
		AllocationStrategy: BestFit,
		CompactionPolicy:   ra.policy.CompactionPolicy,
		ShrinkPolicy: ShrinkPolicy{
			Enabled:        true,
			ThresholdRatio: 0.25,
			MinRegionSize:  MinRegionSize,
			ShrinkFactor:   0.5,
		},
		GrowthPolicy: GrowthPolicy{
			Enabled:        true,
			GrowthFactor:   2.0,
			MaxRegionSize:  MaxRegionSize,
			GrowthStrategy: ExponentialGrowth,
		},
		AlignmentPolicy: AlignmentPolicy{
			DefaultAlignment: DefaultAlignment,
			TypeAlignment:    make(map[string]RegionAlignment),
			MinAlignment:     1,
			MaxAlignment:     MaxAlignment,
		},
		SecurityPolicy: SecurityPolicy{
			EnableCanaries:   true,
			EnableGuardPages: false,
			EnableEncryption: false,
			EnableZeroOnFree: true,
			EnableStackProbe: false,
			EnableHeapSpray:  true,
		},
	}
}

// calculateHeaderChecksum calculates region header checksum
func (ra *RegionAllocator) calculateHeaderChecksum(header *RegionHeader) uint64 {
	// Simple checksum calculation (XOR of all fields)
	checksum := uint64(header.ID)
	checksum ^= uint64(header.Size)
	checksum ^= uint64(header.Used)
	checksum ^= uint64(header.Free)
	checksum ^= uint64(header.Alignment)
	checksum ^= uint64(header.State)
	checksum ^= uint64(header.RefCount)
	checksum ^= uint64(header.AllocCount)
	checksum ^= uint64(header.FreeCount)
	checksum ^= uint64(header.CreatedAt)
	checksum ^= uint64(header.LastAccess)
	checksum ^= header.Magic

	return checksum
}

// getCurrentTimestamp returns current timestamp in nanoseconds
func getCurrentTimestamp() int64 {
	return time.Now().UnixNano()
}

// allocateSystemMemory allocates a backing byte slice and returns it along with an aligned offset
// into the slice where the usable region begins. The caller must keep the slice alive.
//
// On unix it is backed by an anonymous mmap (see mmap_unix.go) so large
// regions do not pass through the Go heap or its collector; elsewhere it
// falls back to a plain slice (mmap_other.go).
func (ra *RegionAllocator) allocateSystemMemory(size RegionSize) ([]byte, uintptr, error) {
	alignment := uintptr(4096) // Page alignment
	actualSize := uintptr(size) + alignment

	mem, err := mmapAnon(actualSize)
	if err != nil {
		return nil, 0, err
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))

	// Align pointer
	aligned := (base + alignment - 1) &^ (alignment - 1)

	return mem, aligned - base, nil
}

// FreeRegion frees a memory region
func (ra *RegionAllocator) FreeRegion(id RegionID) error {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	region, exists := ra.regions[id]
	if !exists {
		return fmt.Errorf("region %d not found", id)
	}

	// Decrease reference count
	refCount := atomic.AddInt64(&region.Header.RefCount, -1)
	if refCount > 0 {
		return nil // Still referenced
	}

	// Mark as freed
	atomic.StoreUint32(&region.Header.State, RegionFreed)

	// Remove from active regions
	delete(ra.regions, id)
	atomic.AddInt64(&ra.activeRegions, -1)
	atomic.AddUint64(&ra.totalMemory, ^uint64(region.Header.Size-1))

	// Add to free regions pool for reuse
	ra.freeRegions = append(ra.freeRegions, region)

	// Notify observers
	for _, observer := range ra.observers {
		observer.OnRegionFreed(ra, region)
	}

	return nil
}

// GetRegion retrieves a region by ID
func (ra *RegionAllocator) GetRegion(id RegionID) (*Region, error) {
	ra.mutex.RLock()
	defer ra.mutex.RUnlock()

	region, exists := ra.regions[id]
	if !exists {
		return nil, fmt.Errorf("region %d not found", id)
	}

	return region, nil
}

// GetStats returns allocator statistics
func (ra *RegionAllocator) GetStats() *AllocatorStats {
	ra.mutex.RLock()
	defer ra.mutex.RUnlock()

	stats := *ra.stats
	stats.ActiveRegions = uint64(atomic.LoadInt64(&ra.activeRegions))
	stats.TotalMemoryUsage = atomic.LoadUint64(&ra.totalMemory)
	stats.PeakMemoryUsage = atomic.LoadUint64(&ra.peakMemory)

	return &stats
}

// AddObserver adds an allocator observer
func (ra *RegionAllocator) AddObserver(observer AllocatorObserver) {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	ra.observers = append(ra.observers, observer)
}

// RemoveObserver removes an allocator observer
func (ra *RegionAllocator) RemoveObserver(observer AllocatorObserver) {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	for i, obs := range ra.observers {
		if obs == observer {
			ra.observers = append(ra.observers[:i], ra.observers[i+1:]...)
			break
		}
	}
}

// CreateRegion creates a new region with specified size and alignment
func (ra *RegionAllocator) CreateRegion(size RegionSize, alignment RegionAlignment) (*Region, error) {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	// Generate unique region ID
	regionID := RegionID(atomic.AddUint64(&ra.nextID, 1))

	// Allocate system memory
	backingSlice, offset, err := ra.allocateSystemMemory(size)
	if err != nil {
		return nil, err
	}

	// Create region header
	header := &RegionHeader{
		ID:         regionID,
		Size:       size,
		Used:       0,
		Free:       size,
		Alignment:  alignment,
		State:      RegionActive,
		RefCount:   1,
		AllocCount: 0,
		FreeCount:  0,
		CreatedAt:  getCurrentTimestamp(),
		LastAccess: getCurrentTimestamp(),
		Parent:     nil,
		Children:   nil,
		FreeList:   nil,
		AllocList:  nil,
		Magic:      0xDEADBEEF,
		Checksum:   0,
	}

	// Create initial free block
	initialFreeBlock := &FreeBlock{
		Size:   size,
		Offset: 0,
		Next:   nil,
		Prev:   nil,
	}
	header.FreeList = initialFreeBlock

	// Create region
	region := &Region{
		Header:    header,
		Data:      unsafe.Add(unsafe.Pointer(unsafe.SliceData(backingSlice)), int(offset)),
		backing:   backingSlice,
		Stats:     &RegionStats{},
		Policy:    ra.getDefaultRegionPolicy(), // Use default region policy
		Observers: make([]RegionObserver, 0),
	}

	// Add to regions map
	ra.regions[regionID] = region
	ra.stats.TotalRegions++
	ra.stats.ActiveRegions++

	return region, nil
}

// DestroyRegion destroys a region and frees its memory
func (ra *RegionAllocator) DestroyRegion(regionID RegionID) error {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	region, exists := ra.regions[regionID]
	if !exists {
		return fmt.Errorf("region not found")
	}

	// Check if region has active allocations
	if region.Header.AllocCount > region.Header.FreeCount {
		return fmt.Errorf("region still has active allocations")
	}

	if err := munmapAnon(region.backing); err != nil {
		return err
	}

	// Remove from regions map
	delete(ra.regions, regionID)
	ra.stats.ActiveRegions--

	// Update state
	atomic.StoreUint32(&region.Header.State, 4) // 4 is RegionCorrupted; there is no separate destroyed state

	return nil
}
