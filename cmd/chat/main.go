package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"carconnect/internal/adapter/repository"
	"carconnect/internal/domain/entity"
	"carconnect/internal/infrastructure/transport"
	"carconnect/internal/usecase"
	"carconnect/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	token := os.Getenv("CARCONNECT_TOKEN")
	if token == "" {
		log.Fatalf("CARCONNECT_TOKEN is required")
	}

	chatRepo := repository.NewRESTChatRepository(cfg.APIBaseURL, token, repository.Options{
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})

	transportClient := transport.NewClient(cfg.SocketURL, transport.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		HandshakeGrace:   cfg.HandshakeGrace,
	})

	feed := usecase.NewNotificationFeed(cfg.FeedCapacity)
	chat := usecase.NewChatSession(chatRepo, transportClient, feed, cfg.ReconnectDelay)

	monitor := usecase.NewSessionMonitor(usecase.SessionMonitorOptions{
		Timeout:          cfg.SessionTimeout,
		WarningThreshold: cfg.WarningThreshold,
		PollInterval:     cfg.PollInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.StartSession(func() {
		fmt.Println("\nSession expired, logging out.")
		cancel()
	})
	defer monitor.EndSession()

	unsubscribe := feed.Subscribe(func(snapshot usecase.FeedSnapshot) {
		if snapshot.Unread > 0 {
			fmt.Printf("[%d unread notifications]\n", snapshot.Unread)
		}
	})
	defer unsubscribe()

	go chat.MaintainConnection(ctx, token)

	if _, err := chat.LoadConversations(ctx); err != nil {
		log.Printf("Could not load conversations: %v", err)
	}

	fmt.Println("CarConnect chat. Commands: list, open <listing> <peer>, send <text>, read, notifications, quit")
	runLoop(ctx, chat, feed, monitor)
}

func runLoop(ctx context.Context, chat *usecase.ChatSession, feed *usecase.NotificationFeed, monitor *usecase.SessionMonitor) {
	scanner := bufio.NewScanner(os.Stdin)
	var openListing, openPeer string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		monitor.RecordActivity()

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "list":
			for _, c := range chat.Conversations() {
				fmt.Printf("%s %s %d (%s) — %d unread\n", c.Peer.Name, c.Listing.Make, c.Listing.Year, c.Listing.ID, c.UnreadCount)
			}

		case "open":
			if len(fields) != 3 {
				fmt.Println("usage: open <listing> <peer>")
				continue
			}
			openListing, openPeer = fields[1], fields[2]
			messages, err := chat.LoadMessages(ctx, openListing, openPeer)
			if err != nil {
				fmt.Printf("load failed: %v\n", err)
				continue
			}
			printMessages(messages)

		case "send":
			if openPeer == "" {
				fmt.Println("open a conversation first")
				continue
			}
			content := strings.TrimSpace(strings.TrimPrefix(line, "send"))
			_, err := chat.SendMessage(ctx, usecase.SendMessageInput{
				RecipientID: openPeer,
				ListingID:   openListing,
				Content:     content,
			})
			if err != nil {
				fmt.Printf("send failed: %v\n", err)
			}

		case "read":
			if openPeer == "" {
				fmt.Println("open a conversation first")
				continue
			}
			var unread []string
			for _, m := range chat.Messages() {
				if !m.Read && m.Sender.ID == openPeer {
					unread = append(unread, m.ID)
				}
			}
			updated, err := chat.MarkAsRead(ctx, unread, openPeer)
			if err != nil {
				fmt.Printf("mark read failed: %v\n", err)
				continue
			}
			fmt.Printf("%d marked read\n", updated)

		case "notifications":
			for _, n := range feed.Items() {
				marker := " "
				if !n.Read {
					marker = "*"
				}
				fmt.Printf("%s [%s/%s] %s: %s\n", marker, n.Severity, n.Category, n.Title, n.Message)
			}

		case "quit":
			return

		default:
			fmt.Println("unknown command")
		}
	}
}

func printMessages(messages []entity.ChatMessage) {
	for _, m := range messages {
		fmt.Printf("%s %s: %s\n", m.CreatedAt.Format("15:04"), m.Sender.Name, m.Content)
	}
}
