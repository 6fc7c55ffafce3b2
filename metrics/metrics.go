package metrics

import (
	"strconv"
	"time"
)

// Recorder receives event counts and latencies. Labels carry at least
// "network", the chain id.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// UnknownNetwork labels events that happen before a chain id is known.
const UnknownNetwork = "unknown"

// Network returns the label set for an event on chainID. Zero or negative ids
// map to UnknownNetwork.
func Network(chainID int64) map[string]string {
	if chainID <= 0 {
		return map[string]string{"network": UnknownNetwork}
	}
	return map[string]string{"network": strconv.FormatInt(chainID, 10)}
}
