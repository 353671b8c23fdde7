package dhash

import (
	"strconv"
	"testing"
)

func TestDictToHashIgnoresInsertionOrder(t *testing.T) {
	a := map[int]string{}
	b := map[int]string{}
	for i := 1; i <= 50; i++ {
		a[i] = "row" + strconv.Itoa(i*7)
	}
	for i := 50; i >= 1; i-- {
		b[i] = "row" + strconv.Itoa(i*7)
	}
	if DictToHash(a) != DictToHash(b) {
		t.Fatalf("hash depends on insertion order")
	}
}

func TestDictToHashNumericKeyOrder(t *testing.T) {
	byInt := DictToHash(map[int]string{10: "x", 2: "y"})
	byString := DictToHash(map[string]string{"10": "x", "2": "y"})
	if byInt == byString {
		t.Fatalf("int keys hashed in string order")
	}
}

func TestDictToHashKnownDigest(t *testing.T) {
	got := DictToHash(map[string]string{"b": "2", "a": "1"})
	if got != "f2e49af795161e14acf9d9245473a368" {
		t.Fatalf("digest=%q want md5(a1b2)", got)
	}
}
