package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Billboah/ChatApp-sub000/internal/chatclient"
	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(openCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Follow a chat live and send messages from stdin",
	Long: "Open a chat, print its history and follow new messages.\n" +
		"Each line read from stdin is sent as a message. Lines starting with '/' are commands:\n" +
		"  /older          load older history\n" +
		"  /retry <temp>   resend a failed message\n" +
		"  /quit           leave the chat",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		if cfg.UserID <= 0 {
			return fmt.Errorf("no user_id. Run 'chatctl config set user_id <id>' first")
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		logger := newLogger()
		rt := chatclient.NewRealtime(cfg.ServerURL, chatclient.RealtimeConfig{Token: cfg.Token, Logger: logger})
		if err := rt.Connect(ctx); err != nil {
			return err
		}
		defer rt.Close()

		session := chatclient.NewSession(cfg.UserID, newAPI(cfg), rt, chatclient.WithSessionLogger(logger))
		go session.Run(ctx)

		if err := session.Start(ctx); err != nil {
			return err
		}
		if err := session.OpenChat(ctx, chatID); err != nil {
			return err
		}
		defer func() {
			_ = session.CloseChat(context.WithoutCancel(ctx), chatID)
		}()

		view := newChatView(session, chatID)
		view.refresh(ctx)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				select {
				case lines <- scanner.Text():
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-session.Changes():
				view.refresh(ctx)
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := view.handleLine(ctx, line); quit {
					return nil
				}
			}
		}
	},
}

// chatView prints new messages of the open chat and unread notices for the
// others.
type chatView struct {
	session *chatclient.Session
	chatID  int64
	printed map[int64]bool
	unread  map[int64]int
	typing  string
}

func newChatView(session *chatclient.Session, chatID int64) *chatView {
	return &chatView{
		session: session,
		chatID:  chatID,
		printed: make(map[int64]bool),
		unread:  make(map[int64]int),
	}
}

func (v *chatView) refresh(ctx context.Context) {
	buffer, ok, err := v.session.Buffer(ctx, v.chatID)
	if err != nil || !ok {
		return
	}
	for _, message := range buffer.Regular {
		if message.ID == 0 || v.printed[message.ID] {
			continue
		}
		v.printed[message.ID] = true
		fmt.Println(formatMessage(message, false))
	}

	if users, err := v.session.Typing(ctx, v.chatID); err == nil {
		v.showTyping(users)
	}

	chats, err := v.session.Chats(ctx)
	if err != nil {
		return
	}
	for _, chat := range chats {
		n := len(chat.UnreadMessageIDs)
		if chat.ID != v.chatID && n > v.unread[chat.ID] {
			fmt.Printf("-- chat %d has %d unread\n", chat.ID, n)
		}
		v.unread[chat.ID] = n
	}
}

func (v *chatView) showTyping(users []models.Participant) {
	names := make([]string, 0, len(users))
	for _, user := range users {
		names = append(names, user.Name)
	}
	typing := strings.Join(names, ", ")
	if typing != "" && typing != v.typing {
		fmt.Printf("-- %s typing...\n", typing)
	}
	v.typing = typing
}

func (v *chatView) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "/quit":
		return true
	case "/older":
		more, err := v.session.LoadOlder(ctx, v.chatID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load older:", err)
			return false
		}
		if !more {
			fmt.Println("-- start of history")
		}
		v.refresh(ctx)
		return false
	case "/retry":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: /retry <temp-id>")
			return false
		}
		v.report(v.session.Retry(ctx, fields[1]))
		return false
	}

	if err := v.session.KeyPressed(ctx, v.chatID); err != nil {
		fmt.Fprintln(os.Stderr, "typing:", err)
	}
	v.report(v.session.SendMessage(ctx, v.chatID, line))
	return false
}

func (v *chatView) report(message models.Message, err error) {
	switch {
	case err == nil:
		v.refresh(context.Background())
	case errors.Is(err, chatclient.ErrEmptyContent), errors.Is(err, chatclient.ErrNotPending):
		fmt.Fprintln(os.Stderr, err)
	case message.TempID != "":
		fmt.Println(formatMessage(message, true))
		fmt.Fprintf(os.Stderr, "send failed: %v (retry with /retry %s)\n", err, message.TempID)
	default:
		fmt.Fprintln(os.Stderr, "send failed:", err)
	}
}
