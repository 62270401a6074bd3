//go:build unix

package ffindex

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps f read-only. The second result reports whether the bytes
// came from an actual map and must be released with munmapFile.
func mmapFile(f *os.File) ([]byte, bool, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	size := info.Size()
	if size == 0 {
		return nil, false, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
