package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Minimal stand-in for a Fremisn node, used for manual proxy testing.
func main() {
	port := "4005"
	if len(os.Args) > 1 {
		port = os.Args[1]
	}

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","port":%s}`, port)
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[port %s] %s %s", port, r.Method, r.RequestURI)

		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"backend":"testbackend","port":%s,"method":"%s"}`, port, r.Method)

		case "/v1/face/enrollment":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"ok":true,"port":%s}`, port)

		case "/delay":
			time.Sleep(100 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"ok","delay_ms":100}`)

		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"simulated error"}`)

		default:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"path":"%s","port":%s}`, r.URL.Path, port)
		}
	})

	addr := fmt.Sprintf(":%s", port)
	log.Printf("test backend listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
