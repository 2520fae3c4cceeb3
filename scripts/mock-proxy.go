//go:build ignore

// Mock proxy admin endpoint for testing config_url publishing.
// Run with: go run scripts/mock-proxy.go -port 9001
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

func main() {
	port := flag.Int("port", 9001, "Port to listen on")
	flag.Parse()

	var (
		mu       sync.RWMutex
		lastBody []byte
		lastAt   time.Time
	)

	mux := http.NewServeMux()

	// Accepts the dynamic config the operator publishes.
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		lastBody = body
		lastAt = time.Now()
		mu.Unlock()
		log.Printf("Received dynamic config (%d bytes):\n%s", len(body), body)
		w.WriteHeader(http.StatusOK)
	})

	// Shows the most recently published config.
	mux.HandleFunc("/last", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if lastBody == nil {
			http.Error(w, "no config published yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("X-Published-At", lastAt.Format(time.RFC3339))
		w.Write(lastBody)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock proxy admin starting on %s (PUT /config)", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
