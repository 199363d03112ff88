package keys

import "bytes"

// Compare orders internal keys: user keys ascending, and for equal user keys
// sequence numbers descending, so the newest version of a key sorts first.
func Compare(a, b []byte) int {
	ua, ub := UserKey(a), UserKey(b)
	if c := bytes.Compare(ua, ub); c != 0 {
		return c
	}

	aseq, akind, _ := Trailer(a)
	bseq, bkind, _ := Trailer(b)

	switch {
	case aseq > bseq:
		return -1
	case aseq < bseq:
		return 1
	}

	// Same sequence can only happen for seek keys; order by kind for
	// determinism.
	switch {
	case akind > bkind:
		return -1
	case akind < bkind:
		return 1
	}
	return 0
}
