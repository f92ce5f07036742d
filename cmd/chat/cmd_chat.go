package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/careline/careline/internal/client"
	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/protocol"
)

var flagSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&flagSession, "session", "", "resume an existing session ID")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if flagUsername == "" {
		return errors.New("--username is required")
	}

	ctx := cmd.Context()
	api := client.NewAPIClient(flagServer)

	login, err := api.Login(ctx, flagUsername)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Printf("已登录：%s\n", login.Username)

	sessions := client.NewSessionList(api)
	sessionID := flagSession
	if sessionID == "" {
		entry, err := sessions.Create(ctx)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = entry.SessionID
	} else {
		sessions.Select(sessionID)
	}
	fmt.Printf("会话：%s（输入 /quit 退出）\n\n", sessionID)

	wsURL, err := client.WSURL(flagServer, sessionID, api.Token())
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	store := client.NewMessageStore()
	reasm := client.NewReassembler(0, func(update client.StreamUpdate) {
		renderStream(store, update)
	})

	transport := client.NewTransport(wsURL, client.TransportOptions{})
	transport.OnStatus(func(status client.Status) {
		fmt.Printf("\n[连接状态：%s]\n", status)
	})
	transport.OnFrame(func(frame protocol.ServerFrame) {
		handleFrame(store, reasm, frame)
	})

	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// Two coordinated loops: the input reader and the teardown watcher.
	// Whichever ends first (/quit, stdin EOF, SIGINT) cancels the
	// context; the watcher then closes the transport so the other side
	// stops too. The explicit cancel covers a clean nil return from the
	// input loop, which errgroup alone would not propagate.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return inputLoop(ctx, transport, store)
	})
	g.Go(func() error {
		<-ctx.Done()
		transport.Disconnect()
		return nil
	})
	return g.Wait()
}

func inputLoop(ctx context.Context, transport *client.Transport, store *client.MessageStore) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			store.Clear()
			continue
		}

		store.Add(domain.RoleUser, line, nil)
		if !transport.SendText(line) {
			fmt.Println("[发送失败：当前没有可用连接]")
		}
	}
}

// handleFrame routes server frames: stream frames feed the reassembler,
// complete responses go straight to the store, echoes are dropped.
func handleFrame(store *client.MessageStore, reasm *client.Reassembler, frame protocol.ServerFrame) {
	switch frame.Type {
	case protocol.TypeConnected:
		fmt.Printf("[%s]\n", frame.Message)
	case protocol.TypeMessage:
		// Echo of our own message; already rendered locally.
	case protocol.TypeResponse:
		visible, citations := protocol.ExtractReferences(frame.Content)
		store.Add(domain.RoleAssistant, visible, citations)
		fmt.Printf("\n%s\n", visible)
		printCitations(citations)
		fmt.Print("> ")
	case protocol.TypeStreamStart, protocol.TypeStreamMessage, protocol.TypeStreamEnd:
		reasm.Handle(frame)
	case protocol.TypeError:
		fmt.Printf("\n[错误：%s]\n> ", frame.Message)
	}
}

func renderStream(store *client.MessageStore, update client.StreamUpdate) {
	msg := store.UpsertStreaming(update.Content, update.Complete, update.References)
	if !update.Complete {
		return
	}
	fmt.Printf("\n%s\n", msg.Content)
	printCitations(msg.References)
	fmt.Print("> ")
}

func printCitations(citations []domain.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("参考文档:")
	for i, c := range citations {
		fmt.Printf("  %d. %s", i+1, c.Source)
		if c.ContentPreview != "" {
			fmt.Printf(": %s", c.ContentPreview)
		}
		fmt.Println()
	}
}
