package instance

import (
	"os"
	"strings"
)

var idKeys = []string{"JOBROUTER_INSTANCE_ID", "DYNO", "HOSTNAME"}

// ID names the running process for logs and lock ownership. The first
// non-empty of JOBROUTER_INSTANCE_ID, DYNO and HOSTNAME wins.
func ID() string {
	for _, key := range idKeys {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return "local"
}
