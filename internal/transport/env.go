package transport

import (
	"os"
	"strings"
)

func osEnviron() []string {
	return os.Environ()
}

func splitEnv(kv string) (key, value string) {
	if idx := strings.IndexByte(kv, '='); idx >= 0 {
		return kv[:idx], kv[idx+1:]
	}
	return kv, ""
}
