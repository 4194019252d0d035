package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waste2worth/negotiation-realtime/pkg/model"
)

type LoginResponse struct {
	Token string `json:"token"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/api/auth/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) emit(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(map[string]any{"event": event, "data": data})
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func printFrame(f frame) {
	switch f.Event {
	case "new_message":
		var m model.Message
		if err := json.Unmarshal(f.Data, &m); err == nil {
			fmt.Printf("\r[%s] %s: %s\n> ", m.NegotiationID, m.SenderName, m.Text)
			return
		}
	case "negotiation_updated":
		var ev struct {
			NegotiationID string  `json:"negotiation_id"`
			Status        string  `json:"status"`
			Amount        float64 `json:"amount"`
			ActorID       string  `json:"actor_id"`
		}
		if err := json.Unmarshal(f.Data, &ev); err == nil {
			fmt.Printf("\r[%s] %s set status to %s (%.2f)\n> ", ev.NegotiationID, ev.ActorID, ev.Status, ev.Amount)
			return
		}
	case "error":
		fmt.Printf("\rerror: %s\n> ", f.Data)
		return
	}
	fmt.Printf("\r%s: %s\n> ", f.Event, f.Data)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	negotiationID := flag.String("negotiation", "", "negotiation to join on connect")
	flag.Parse()

	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer ws.Close()
	c := &conn{ws: ws}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := ws.ReadJSON(&f); err != nil {
				log.Println("read:", err)
				return
			}
			printFrame(f)
		}
	}()

	current := *negotiationID
	if current != "" {
		if err := c.emit("join_negotiation", map[string]string{"negotiation_id": current}); err != nil {
			log.Fatal("join:", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Commands: /join <id>, /leave, /quit. Anything else is sent to the
	// current negotiation.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			var err error
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case strings.HasPrefix(text, "/join "):
				current = strings.TrimSpace(strings.TrimPrefix(text, "/join "))
				err = c.emit("join_negotiation", map[string]string{"negotiation_id": current})
			case text == "/leave":
				err = c.emit("leave_negotiation", map[string]string{"negotiation_id": current})
				current = ""
			case current == "":
				fmt.Println("join a negotiation first: /join <id>")
			default:
				err = c.emit("send_message", map[string]string{"negotiation_id": current, "message": text})
			}
			if err != nil {
				log.Println("write:", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
		if err := c.close(); err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
