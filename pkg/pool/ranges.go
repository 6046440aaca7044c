package pool

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nebari-dev/portserver/pkg/port"
)

// ParseRanges expands a static pool spec such as "15000-24999,30000-30010"
// into a sorted, de-duplicated list of ports. Ranges that fail to parse or
// fall outside 1-65535 are skipped and reported in skipped.
func ParseRanges(spec string) (ports []uint16, skipped []error) {
	seen := make(map[uint16]struct{})

	for _, rangeStr := range strings.Split(spec, ",") {
		rangeStr = strings.TrimSpace(rangeStr)

		startStr, endStr, ok := strings.Cut(rangeStr, "-")
		if !ok {
			skipped = append(skipped, fmt.Errorf("unparsable port range %q", rangeStr))
			continue
		}
		start, err := strconv.Atoi(strings.TrimSpace(startStr))
		if err != nil {
			skipped = append(skipped, fmt.Errorf("unparsable port range %q: %w", rangeStr, err))
			continue
		}
		end, err := strconv.Atoi(strings.TrimSpace(endStr))
		if err != nil {
			skipped = append(skipped, fmt.Errorf("unparsable port range %q: %w", rangeStr, err))
			continue
		}
		if start < port.MinPort || end > port.MaxPort {
			skipped = append(skipped, fmt.Errorf("out of bounds port range %q", rangeStr))
			continue
		}

		for p := start; p <= end; p++ {
			seen[uint16(p)] = struct{}{}
		}
	}

	ports = make([]uint16, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports, skipped
}
