package analytics

import (
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID names this process in the usage consumer group: the host
// keeps it readable in XINFO CONSUMERS, the ULID keeps each restart distinct
// so stale pending entries are reclaimed by idle time, not inherited by name.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "noncegate"
	}
	return strings.ToLower(host) + "-" + strings.ToLower(ulid.Make().String())
}
