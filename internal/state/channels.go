package state

import (
	"sort"
	"strconv"
	"strings"
)

// Channel name prefixes used by the IPX800 status document.
const (
	InputPrefix  = "btn"
	OutputPrefix = "led"
)

// IsInputChannel reports whether name is a well-formed input channel (btnN).
func IsInputChannel(name string) bool {
	return hasIndex(name, InputPrefix)
}

// IsOutputChannel reports whether name is a well-formed output channel (ledN).
func IsOutputChannel(name string) bool {
	return hasIndex(name, OutputPrefix)
}

func hasIndex(name, prefix string) bool {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return false
	}
	n, err := strconv.Atoi(rest)
	return err == nil && n >= 0 && strconv.Itoa(n) == rest
}

// SortChannels orders channel names by prefix and then by numeric index,
// so led2 sorts before led10.
func SortChannels(names []string) {
	sort.Slice(names, func(i, j int) bool {
		pi, ni := splitChannel(names[i])
		pj, nj := splitChannel(names[j])
		if pi != pj {
			return pi < pj
		}
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
}

func splitChannel(name string) (string, int) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return name, -1
	}
	return name[:i], n
}
