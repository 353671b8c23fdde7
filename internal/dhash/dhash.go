// Package dhash computes content hashes of small key/value mappings.
package dhash

import (
	"cmp"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
)

// DictToHash returns the hex md5 digest of m with keys visited in ascending
// order, feeding the text form of each key followed by its value. Map
// iteration order therefore never affects the result.
func DictToHash[K cmp.Ordered](m map[K]string) string {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	h := md5.New()
	for _, k := range keys {
		fmt.Fprint(h, k)
		h.Write([]byte(m[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
