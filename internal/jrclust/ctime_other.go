//go:build !linux

package jrclust

import (
	"os"
	"time"
)

func changeTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime().UTC(), nil
}
