//go:build linux

package jrclust

import (
	"os"
	"syscall"
	"time"
)

// changeTime returns the inode status-change time of path.
func changeTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec)).UTC(), nil
	}
	return fi.ModTime().UTC(), nil
}
