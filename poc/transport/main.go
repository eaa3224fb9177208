package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport fallback experiment.
//
// Peers behind corporate load balancers often cannot upgrade to a
// websocket, so the gateway needs a second transport that looks like
// plain HTTP on the wire. This POC runs one server exposing both a
// websocket echo and a server-sent event stream, measures round-trip
// latency on each, then flips the front to reject upgrades and checks
// a client can walk down to the stream without server cooperation.

var (
	messages = flag.Int("messages", 200, "Messages per transport measurement")
)

var upgrader = websocket.Upgrader{}

// front stands in for a load balancer: when degraded, upgrade requests
// are answered with 502 the way proxies without upgrade support do.
type front struct {
	mux      *http.ServeMux
	degraded atomic.Bool
}

func (f *front) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.degraded.Load() && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "upgrades not supported", http.StatusBadGateway)
		return
	}
	f.mux.ServeHTTP(w, r)
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("Transport Fallback POC - Websocket vs Event Stream")
	log.Println("==================================================")

	f := &front{mux: http.NewServeMux()}
	f.mux.HandleFunc("/ws", serveEcho)
	f.mux.HandleFunc("/events", serveEvents)

	srv := httptest.NewServer(f)
	defer srv.Close()
	log.Printf("Server: %s", srv.URL)

	wsLatency, err := measureWebsocket(srv.URL)
	if err != nil {
		log.Fatalf("Websocket measurement failed: %v", err)
	}
	log.Printf("Websocket round trip: avg %v over %d messages", wsLatency, *messages)

	sseLatency, err := measureStream(srv.URL)
	if err != nil {
		log.Fatalf("Event stream measurement failed: %v", err)
	}
	log.Printf("Event stream delivery: avg %v over %d events", sseLatency, *messages)

	// Degrade the front and show the fallback path.
	log.Println("\nDegrading the front: upgrades now answered with 502")
	f.degraded.Store(true)

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil); err == nil {
		log.Fatalf("✗ Upgrade unexpectedly succeeded through a degraded front")
	} else {
		log.Printf("✓ Upgrade refused as expected: %v", err)
	}

	fallback, err := measureStream(srv.URL)
	if err != nil {
		log.Fatalf("✗ Stream fallback failed: %v", err)
	}
	log.Printf("✓ Event stream still delivers: avg %v", fallback)

	fmt.Println("\nConclusion: the stream costs more per message than a socket but")
	fmt.Println("survives fronts that cannot carry upgrades. Worth keeping as the")
	fmt.Println("second rung of the transport ladder, with plain posts upstream.")
}

func serveEcho(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for i := 0; i < *messages; i++ {
		fmt.Fprintf(w, "data: %d\n\n", time.Now().UnixNano())
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func measureWebsocket(baseURL string) (time.Duration, error) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total time.Duration
	payload := []byte(`{"messageType":"probe"}`)
	for i := 0; i < *messages; i++ {
		begin := time.Now()
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return 0, err
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return 0, err
		}
		total += time.Since(begin)
	}
	return (total / time.Duration(*messages)).Round(time.Microsecond), nil
}

func measureStream(baseURL string) (time.Duration, error) {
	resp, err := http.Get(baseURL + "/events")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	var total time.Duration
	var count int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var stamp int64
		if _, err := fmt.Sscanf(strings.TrimPrefix(line, "data: "), "%d", &stamp); err != nil {
			continue
		}
		total += time.Since(time.Unix(0, stamp))
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("no events received")
	}
	return (total / time.Duration(count)).Round(time.Microsecond), nil
}
