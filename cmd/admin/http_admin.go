package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	token := fs.String("token", os.Getenv("ROOMQUEST_ADMIN_TOKEN"), "admin bearer token")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	do(req, *token, 5*time.Second)
}

func notifyCmd(args []string) {
	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	token := fs.String("token", os.Getenv("ROOMQUEST_ADMIN_TOKEN"), "admin bearer token")
	roomID := fs.String("room", "", "room id (required)")
	text := fs.String("text", "", "notice text (required)")
	persist := fs.Bool("persist", false, "store as a system message instead of a transient notice")
	_ = fs.Parse(args)

	if strings.TrimSpace(*roomID) == "" || strings.TrimSpace(*text) == "" {
		fmt.Fprintln(os.Stderr, "missing -room or -text")
		os.Exit(2)
	}
	body, _ := json.Marshal(map[string]any{"room_id": *roomID, "text": *text, "persist": *persist})
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/notify"
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	do(req, *token, 10*time.Second)
}

func do(req *http.Request, token string, timeout time.Duration) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
