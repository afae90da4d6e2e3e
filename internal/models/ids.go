package models

import (
	"sort"
	"strconv"
)

type idToken struct {
	numeric bool
	num     int
	text    string
}

// tokenizeID splits "1.2-T10" into 1 "." 2 "-T" 10 so numeric runs compare as integers.
func tokenizeID(id string) []idToken {
	var tokens []idToken
	start := 0
	for start < len(id) {
		isDigit := id[start] >= '0' && id[start] <= '9'
		end := start + 1
		for end < len(id) && (id[end] >= '0' && id[end] <= '9') == isDigit {
			end++
		}
		part := id[start:end]
		if isDigit {
			n, err := strconv.Atoi(part)
			if err != nil {
				tokens = append(tokens, idToken{text: part})
			} else {
				tokens = append(tokens, idToken{numeric: true, num: n})
			}
		} else {
			tokens = append(tokens, idToken{text: part})
		}
		start = end
	}
	return tokens
}

// CompareIDs orders entity ids with numeric components compared as integers,
// so "1.2" sorts before "1.10". Numbers sort before text at the same position.
func CompareIDs(a, b string) int {
	ta, tb := tokenizeID(a), tokenizeID(b)
	for i := 0; i < len(ta) && i < len(tb); i++ {
		x, y := ta[i], tb[i]
		switch {
		case x.numeric && y.numeric:
			if x.num != y.num {
				if x.num < y.num {
					return -1
				}
				return 1
			}
		case x.numeric != y.numeric:
			if x.numeric {
				return -1
			}
			return 1
		default:
			if x.text != y.text {
				if x.text < y.text {
					return -1
				}
				return 1
			}
		}
	}
	switch {
	case len(ta) < len(tb):
		return -1
	case len(ta) > len(tb):
		return 1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// SortIDs sorts ids in place using CompareIDs.
func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return CompareIDs(ids[i], ids[j]) < 0
	})
}

// SortedKeys returns the keys of m ordered by CompareIDs.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortIDs(keys)
	return keys
}
