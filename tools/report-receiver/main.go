// report-receiver is a standalone endpoint for exercising jobrun outcome
// reports. It records every delivery, verifies the HMAC signature when
// SECRET is set, and tallies run outcomes by status.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type payload struct {
	JobID    string `json:"job_id"`
	RunID    string `json:"run_id"`
	Trigger  string `json:"trigger"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error"`
}

type delivery struct {
	Timestamp      string `json:"timestamp"`
	AttemptID      string `json:"attempt_id"`
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	SignatureValid *bool  `json:"signature_valid,omitempty"`
	Body           string `json:"body"`
}

type stats struct {
	Count          int64            `json:"count"`
	Outcomes       map[string]int64 `json:"outcomes"`
	BadSignatures  int64            `json:"bad_signatures"`
	LastDeliveries []delivery       `json:"last_deliveries"`
	Since          string           `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	badSignatures  int64
	outcomes       = make(map[string]int64)
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50

	secret = os.Getenv("SECRET")
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignatures = 0
		outcomes = make(map[string]int64)
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	if secret != "" {
		log.Println("report-receiver: verifying signatures")
	}
	log.Printf("report-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	var p payload
	_ = json.Unmarshal(body, &p)

	d := delivery{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		AttemptID: r.Header.Get("X-JobRun-Attempt-ID"),
		RunID:     r.Header.Get("X-JobRun-Run-ID"),
		Status:    p.Status,
		Body:      string(body),
	}

	if secret != "" {
		valid := verifySignature(body, r.Header.Get("X-JobRun-Signature"))
		d.SignatureValid = &valid
	}

	mu.Lock()
	count++
	if p.Status != "" {
		outcomes[p.Status]++
	}
	if d.SignatureValid != nil && !*d.SignatureValid {
		badSignatures++
	}
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := count
	mu.Unlock()

	if d.SignatureValid != nil && !*d.SignatureValid {
		log.Printf("hook #%d: BAD SIGNATURE run=%s", current, d.RunID)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"bad signature"}`)
		return
	}

	log.Printf("hook #%d: run=%s status=%s exit=%d", current, p.RunID, p.Status, p.ExitCode)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		Outcomes:       outcomes,
		BadSignatures:  badSignatures,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
