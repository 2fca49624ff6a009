// Command starcli is a small interactive console for connecting to a Star
// Protocol hub as a human participant (spec §4.6), generalized from
// cli/main.go's hello/agent_invoke REPL to the full action/event wire.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/GCYYfun/star-protocol/client"
	"github.com/GCYYfun/star-protocol/protocol"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8765", "hub base address")
	humanID := flag.String("id", "human1", "human identity to connect as")
	flag.Parse()

	log.SetFlags(log.Ltime)

	fmt.Printf("Connecting to %s as human/%s...\n", *addr, *humanID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	human, err := client.DialHuman(ctx, *addr, *humanID, client.Options{})
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer human.Close()

	human.OnEvent("", func(envelope protocol.Envelope) {
		var event protocol.EventPayload
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return
		}
		formatted, _ := json.MarshalIndent(event.Data, "", "  ")
		fmt.Printf("\n[event:%s] from %s/%s:\n%s\n> ", event.Event, envelope.Sender.Kind, envelope.Sender.ID, formatted)
	})

	fmt.Println("Connected.")
	printHelp()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		cancel()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !handleCommand(ctx, human, line) {
			return
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /list                                    list live environments")
	fmt.Println("  /announce <message>                      broadcast a hub announcement")
	fmt.Println("  /send <kind> <id> <action> [json params]  send an action and await its outcome")
	fmt.Println("  /quit                                     exit")
}

func handleCommand(ctx context.Context, human *client.Human, line string) bool {
	switch {
	case line == "/quit":
		fmt.Println("Bye!")
		return false

	case line == "/list":
		environments, err := human.ListEnvironments(ctx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		formatted, _ := json.MarshalIndent(environments, "", "  ")
		fmt.Println(string(formatted))
		return true

	case strings.HasPrefix(line, "/announce "):
		message := strings.TrimPrefix(line, "/announce ")
		outcome, err := human.BroadcastAnnouncement(ctx, message)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Printf("announcement status: %s\n", outcome.Status)
		return true

	case strings.HasPrefix(line, "/send "):
		sendAction(ctx, human, strings.TrimPrefix(line, "/send "))
		return true

	default:
		fmt.Println("unrecognized command, see:")
		printHelp()
		return true
	}
}

func sendAction(ctx context.Context, human *client.Human, rest string) {
	fields := strings.SplitN(rest, " ", 4)
	if len(fields) < 3 {
		fmt.Println("usage: /send <kind> <id> <action> [json params]")
		return
	}

	kind := protocol.Kind(fields[0])
	recipient := protocol.NewIdentity(kind, fields[1])
	action := fields[2]

	params := map[string]interface{}{}
	if len(fields) == 4 {
		if err := json.Unmarshal([]byte(fields[3]), &params); err != nil {
			fmt.Printf("invalid json params: %v\n", err)
			return
		}
	}

	outcome, err := human.Send(ctx, recipient, action, params)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	formatted, _ := json.MarshalIndent(outcome, "", "  ")
	fmt.Println(string(formatted))
}
