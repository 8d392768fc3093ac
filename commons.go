package main

import (
	"encoding/json"
)

const (
	defaultMaxBodyBytes = 32 << 20 // http.defaultMaxMemory
	httpUserAgent       = "Mozilla/5.0 Bodytap/1.0 (+https://github.com/bodytap/bodytap)"
	requestIDHeader     = "X-Request-Id"
)

func quoteJSON(s string) string {
	buf, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return string(buf)
}
