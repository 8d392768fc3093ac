package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
)

// Proxy forwards requests to the configured upstream. It reads the request
// body from a fresh spool cursor, so the audit middleware's own reads never
// interfere with the bytes sent upstream.
type Proxy struct {
	conf *Config
}

func NewProxy(conf *Config) *Proxy {
	return &Proxy{conf: conf}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var requestURL string
	if len(r.URL.RawQuery) == 0 {
		requestURL = fmt.Sprintf("%s%s", p.conf.Upstream.BaseUrl, r.URL.EscapedPath())
	} else {
		requestURL = fmt.Sprintf("%s%s?%s", p.conf.Upstream.BaseUrl, r.URL.EscapedPath(), r.URL.RawQuery)
	}
	log.Println(r.Method, requestURL)

	var body io.Reader = r.Body
	cached := CachedBodyFromContext(r.Context())
	if cached != nil {
		cursor, err := cached.Open()
		if err != nil {
			internalServerError(w, err)
			return
		}
		defer cursor.Close()
		body = cursor
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, requestURL, body)
	if err != nil {
		internalServerError(w, err)
		return
	}
	for k, v := range r.Header {
		if k != "Accept-Encoding" && k != "Content-Encoding" && k != "Connection" && k != "Host" && k != "Proxy-Connection" && k != "User-Agent" {
			req.Header[k] = v
		}
	}
	req.Header.Set("User-Agent", httpUserAgent)
	if cached != nil {
		req.ContentLength = cached.Size()
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Println("Upstream HTTP request error:", err)
		reportError(w, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respHeader := w.Header()
	for k, v := range resp.Header {
		if k != "Accept-Encoding" && k != "Content-Encoding" && k != "Connection" && k != "Proxy-Connection" {
			respHeader[k] = v
		}
	}
	w.WriteHeader(resp.StatusCode)
	// Too late to report error, so ignore errors from here

	_, err = io.Copy(w, resp.Body)
	if err != nil {
		debug.PrintStack()
		log.Println("HTTP error:", err)
	}
}
