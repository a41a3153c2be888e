//go:build !linux

package sparse

import "os"

// copyRanges on platforms without SEEK_DATA support: detect zero runs while
// streaming and seek over them.
func copyRanges(in, out *os.File, size int64) error {
	return copyZeroDetect(in, out)
}
