package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(unreadCmd)
	rootCmd.AddCommand(onlineCmd)
	rootCmd.AddCommand(sendCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}

		chats, err := newAPI(cfg).ListChats(cmd.Context())
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}

		for _, chat := range chats {
			name := chat.Name
			if name == "" {
				names := make([]string, 0, len(chat.Members))
				for _, member := range chat.Members {
					if member.ID != cfg.UserID {
						names = append(names, member.Name)
					}
				}
				name = strings.Join(names, ", ")
			}
			line := fmt.Sprintf("%6d  %s", chat.ID, name)
			if n := len(chat.UnreadMessageIDs); n > 0 {
				line += fmt.Sprintf("  (%d unread)", n)
			}
			if chat.LatestMessage != nil {
				line += "  " + chat.LatestMessage.Content
			}
			fmt.Println(line)
		}
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <chat-id>",
	Short: "Print and consume your unread messages in a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		messages, err := newAPI(cfg).Unread(cmd.Context(), chatID)
		if err != nil {
			return err
		}
		for _, message := range messages {
			fmt.Println(formatMessage(message, false))
		}
		return nil
	},
}

var onlineCmd = &cobra.Command{
	Use:   "online <chat-id>",
	Short: "List members of a chat that are online",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		ids, err := newAPI(cfg).Online(cmd.Context(), chatID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>...",
	Short: "Send a message to a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		content := strings.TrimSpace(strings.Join(args[1:], " "))
		if content == "" {
			return fmt.Errorf("message is empty")
		}

		message, err := newAPI(cfg).SendMessage(cmd.Context(), chatID, content)
		if err != nil {
			return err
		}
		fmt.Println(formatMessage(*message, false))
		return nil
	},
}
