package ident

import (
	"fmt"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	inputs := []string{
		"a",
		"The quick brown fox jumps over the lazy dog.",
		"他整整一生都在思考这个问题。",
		"ça va très bien",
		"mixed 文本 and latin",
		"　　indented with ideographic spaces",
		"emoji \U0001F4D6 beyond the BMP",
	}
	for _, in := range inputs {
		if Hash(in) != Hash(in) {
			t.Fatalf("hash not deterministic for %q", in)
		}
	}
}

func TestHashKnownValues(t *testing.T) {
	// accumulator over UTF-16 code units, signed 32-bit, base 36
	cases := map[string]string{
		"":   "0",
		"a":  "2p",  // 97
		"ab": "2e9", // 97*31+98 = 3105
	}
	for in, want := range cases {
		if got := Hash(in); got != want {
			t.Fatalf("Hash(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashIdenticalTextSharesIdentity(t *testing.T) {
	// shared identity for identical visible text is the contract, not a bug
	if Hash("……") != Hash("……") {
		t.Fatalf("identical text must share identity")
	}
}

func TestHashCollisionRate(t *testing.T) {
	// representative corpus of short distinct lines; the hash is not
	// cryptographic but collisions should stay rare
	seen := make(map[string][]string)
	const n = 20000
	for i := 0; i < n; i++ {
		s := fmt.Sprintf("第%d章 这是一个测试段落，编号 %d。", i, i*7)
		h := Hash(s)
		seen[h] = append(seen[h], s)
	}
	collisions := 0
	for _, texts := range seen {
		if len(texts) > 1 {
			collisions += len(texts) - 1
		}
	}
	if collisions > n/1000 {
		t.Fatalf("collision rate too high: %d of %d", collisions, n)
	}
}

func TestKey(t *testing.T) {
	if got := Key("book-1", "2p"); got != "book-1|2p" {
		t.Fatalf("unexpected key: %q", got)
	}
}
