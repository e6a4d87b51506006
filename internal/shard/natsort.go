package shard

// naturalLess reports whether a sorts before b under natural ordering:
// runs of ASCII digits are compared as numbers, everything else byte-wise.
// "part_2.npy" sorts before "part_10.npy" even though it is lexicographically
// larger.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		da, db := isDigit(ca), isDigit(cb)

		switch {
		case da && db:
			// Compare the full digit runs numerically.
			ia, na := digitRun(a, i)
			ib, nb := digitRun(b, j)
			if na != nb {
				return numLess(na, nb)
			}
			i, j = ia, ib

		case da != db:
			// Digits sort before non-digits so "shard2" < "shard_extra".
			return da

		default:
			if ca != cb {
				return ca < cb
			}
			i++
			j++
		}
	}
	return len(a)-i < len(b)-j
}

// digitRun returns the index just past the digit run starting at i and the
// run itself with leading zeros stripped (empty string means the run was all
// zeros).
func digitRun(s string, i int) (end int, run string) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	run = s[start:i]
	for len(run) > 1 && run[0] == '0' {
		run = run[1:]
	}
	return i, run
}

// numLess compares two digit strings (no leading zeros) numerically.
func numLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
