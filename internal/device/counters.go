package device

import (
	"strconv"
	"strings"
)

// CounterCount is the number of coincidence counters returned per read:
// the start channel, 32 single channels and 26 coincidence groups of
// channels 1 to 5.
const CounterCount = 59

// MaxChannel is the highest single channel number.
const MaxChannel = 32

// CounterNames names every counter index in device order.
var CounterNames = buildCounterNames()

// coincidenceGroups lists the channel groups behind counters 33..58.
var coincidenceGroups = [][]int{
	{1, 2}, {1, 3}, {2, 3}, {1, 4}, {2, 4}, {3, 4}, {1, 5}, {2, 5}, {3, 5}, {4, 5},
	{1, 2, 3}, {1, 2, 4}, {1, 3, 4}, {2, 3, 4}, {1, 2, 5}, {1, 3, 5}, {2, 3, 5}, {1, 4, 5}, {2, 4, 5}, {3, 4, 5},
	{1, 2, 3, 4}, {1, 2, 3, 5}, {1, 2, 4, 5}, {1, 3, 4, 5}, {2, 3, 4, 5},
	{1, 2, 3, 4, 5},
}

func buildCounterNames() []string {
	names := make([]string, 0, CounterCount)
	names = append(names, "0(Start)")
	for ch := 1; ch <= MaxChannel; ch++ {
		names = append(names, strconv.Itoa(ch))
	}
	for _, g := range coincidenceGroups {
		names = append(names, groupName(g))
	}
	return names
}

func groupName(g []int) string {
	parts := make([]string, len(g))
	for i, ch := range g {
		parts[i] = strconv.Itoa(ch)
	}
	return strings.Join(parts, "/")
}

// CounterName returns the label of counter index i, or "#i" when out of range.
func CounterName(i int) string {
	if i < 0 || i >= len(CounterNames) {
		return "#" + strconv.Itoa(i)
	}
	return CounterNames[i]
}

// CounterIndex resolves a label such as "2" or "1/3" to its counter index.
func CounterIndex(name string) (int, bool) {
	for i, n := range CounterNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// CoincidenceGroup returns the channels counted by counter index i, or nil
// when i is not a coincidence counter.
func CoincidenceGroup(i int) []int {
	off := i - (MaxChannel + 1)
	if off < 0 || off >= len(coincidenceGroups) {
		return nil
	}
	return append([]int(nil), coincidenceGroups[off]...)
}
