// Command client is an interactive WebSocket client for manual testing:
// it connects with a session token, prints presence and incoming
// messages, and sends lines typed as "<recipientId> <text>".
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

type frame struct {
	Online []struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	} `json:"online"`
	Error  string `json:"error"`
	Text   string `json:"text"`
	File   string `json:"file"`
	Sender string `json:"sender"`
	ID     string `json:"_id"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:4000/ws", "WebSocket server address")
	token := flag.String("token", "", "Session token (from /login)")
	flag.Parse()

	header := http.Header{}
	if *token != "" {
		header.Set("Cookie", "token="+*token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, header)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *serverURL, err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverURL)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				os.Exit(0)
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			switch {
			case f.Error != "":
				fmt.Printf("!! %s\n", f.Error)
			case f.Online != nil:
				names := make([]string, 0, len(f.Online))
				for _, entry := range f.Online {
					names = append(names, fmt.Sprintf("%s(%s)", entry.Username, entry.UserID))
				}
				fmt.Printf("*** online: %s ***\n", strings.Join(names, ", "))
			default:
				fmt.Printf("[%s]: %s\n", f.Sender, f.Text)
				if f.File != "" {
					fmt.Printf("    attachment: /uploads/%s\n", f.File)
				}
			}
		}
	}()

	fmt.Println("Type messages as '<recipientId> <text>' (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		recipient, text, ok := strings.Cut(line, " ")
		if !ok {
			fmt.Println("usage: <recipientId> <text>")
			continue
		}

		payload, _ := json.Marshal(map[string]string{
			"recipient": recipient,
			"text":      text,
		})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}
