// Package main runs a demo WebSocket client that watches run events while it posts an
// optimize request.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoProblem = `{
  "vehicles": [{"id": "v1", "capacity": 4, "location": {"lat": 35.681, "lng": 139.767}}],
  "demands": [
    {"id": "d1", "quantity": 1, "start": {"lat": 35.690, "lng": 139.700},
     "destination": {"lat": 35.658, "lng": 139.701}, "pickupWindow": {"low": 0, "high": 1800}},
    {"id": "d2", "quantity": 2, "start": {"lat": 35.710, "lng": 139.810},
     "destination": {"lat": 35.681, "lng": 139.767}, "pickupWindow": {"low": 600, "high": 2400}}
  ],
  "maxSolutions": 2,
  "algorithmParameters": {"nbIterations": 500, "timeLimit": 0}
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so the run event is not missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"topic": "runs"})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	got := make(chan struct{})
	go func() {
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "next" {
				close(got)
				return
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	resp, err := http.Post(base+"/v1/optimize", "application/json", bytes.NewReader([]byte(demoProblem)))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var optResp struct {
		RunID     string `json:"runId"`
		Solutions []struct {
			Rank      int      `json:"rank"`
			Objective float64  `json:"objective"`
			Missing   []string `json:"missing"`
		} `json:"solutions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&optResp); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run %s (status %d)", optResp.RunID, resp.StatusCode)
	for _, s := range optResp.Solutions {
		log.Printf("  #%d objective=%.1f missing=%v", s.Rank, s.Objective, s.Missing)
	}

	select {
	case <-time.After(3 * time.Second):
		log.Print("no run event received")
	case <-got:
	}
}
