//go:build unix

package runtime

import "golang.org/x/sys/unix"

// mmapAnon reserves an anonymous, zero-filled mapping for a region's backing
// store. Unlike make([]byte, n), the pages never touch the Go allocator or
// its scanner, which matters once regions grow into the tens of megabytes.
func mmapAnon(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// munmapAnon releases a mapping obtained from mmapAnon.
func munmapAnon(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	return unix.Munmap(mem)
}
