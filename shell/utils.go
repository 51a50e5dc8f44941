package shell

import (
	"strconv"
)

func BlockAddrsToStrings(addrs []uint32) []string {
	strs := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		strs = append(strs, strconv.FormatUint(uint64(addr), 10))
	}

	return strs
}
