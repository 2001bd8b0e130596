// roomledger CLI - command line client for a roomledger server
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/eldtechnologies/roomledger/clients/go/roomledger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("ROOMLEDGER_URL")
	client := roomledger.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "keygen":
		exitOnError(client.GenerateKeypair())
		exitOnError(client.SaveKey())
		fmt.Printf("Public key: %s\n", client.Identity())

	case "whoami":
		if client.PrivateKey == nil {
			fmt.Fprintln(os.Stderr, "No key found. Run: roomledger keygen")
			os.Exit(1)
		}
		fmt.Println(client.Identity())

	case "init":
		name := ""
		if len(os.Args) > 2 {
			name = os.Args[2]
		}
		resp, err := client.InitRoom(name, false)
		exitOnError(err)
		printJSON(resp)

	case "room":
		resp, err := client.GetRoom(roomArg(2))
		exitOnError(err)
		printJSON(resp)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: roomledger send <recipient-key> <message> [room]")
			os.Exit(1)
		}
		room := roomArg(4)
		var resp *roomledger.SendResponse
		var err error
		// Collisions are transient: resend a few times with a short pause.
		for attempt := 0; attempt < 3; attempt++ {
			resp, err = client.Send(room, os.Args[2], []byte(os.Args[3]), true)
			if !roomledger.IsCollision(err) {
				break
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
		exitOnError(err)
		fmt.Printf("Sent #%d (%s)\n", resp.SequenceNumber, resp.Address)

	case "read":
		opts := roomledger.ReadOptions{Limit: 20}
		if client.PrivateKey != nil {
			opts.Recipient = client.Identity()
		}
		resp, err := client.Read(roomArg(2), opts)
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := time.Unix(msg.Timestamp, 0).Format("2006-01-02 15:04:05")
			body, err := client.Open(resp.Room.Room, &msg)
			text := string(body)
			if err != nil {
				text = fmt.Sprintf("<%d sealed bytes>", len(msg.Content))
			}
			fmt.Printf("[%s] #%d %s: %s\n", ts, msg.SequenceNumber, short(msg.Sender), text)
		}

	case "get":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: roomledger get <seq> [room]")
			os.Exit(1)
		}
		seq, err := strconv.ParseUint(os.Args[2], 10, 64)
		exitOnError(err)
		msg, err := client.GetMessage(roomArg(3), seq)
		exitOnError(err)
		printJSON(msg)

	default:
		usage()
		os.Exit(1)
	}
}

func roomArg(i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return roomledger.DefaultRoom
}

func short(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

func usage() {
	fmt.Println(`roomledger - append-only room ledger client

Commands:
  health                          Check server health
  keygen                          Generate and save a signing key
  whoami                          Print your public key
  init [room]                     Initialize a room
  room [room]                     Show a room's message count
  send <recipient> <msg> [room]   Seal and send a message
  read [room]                     Read messages addressed to you
  get <seq> [room]                Fetch one message

Environment:
  ROOMLEDGER_URL     Server URL (default: http://localhost:8080)
  ROOMLEDGER_CONFIG  Key directory (default: ~/.roomledger)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
