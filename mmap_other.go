//go:build !unix

package ffindex

import (
	"io"
	"os"
)

// mmapFile reads f fully into memory on platforms without unix mmap.
func mmapFile(f *os.File) ([]byte, bool, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func munmapFile([]byte) error {
	return nil
}
