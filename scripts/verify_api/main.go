package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "test_user", "user id to log in as")
	negotiationID := flag.String("negotiation", "1", "negotiation to inspect")
	flag.Parse()

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": *userID})
	resp, err := http.Post(*apiAddr+"/api/auth/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	// 2. Negotiation, history, offers and presence
	for _, path := range []string{"", "/messages", "/offers", "/presence"} {
		url := fmt.Sprintf("%s/api/negotiations/%s%s", *apiAddr, *negotiationID, path)
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		req.Header.Add("Authorization", "Bearer "+loginResp.Token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("GET %s failed: %v", url, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		log.Printf("GET %s -> %d %s", url, resp.StatusCode, string(body))
	}
}
