package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/murmurchat/murmur/internal/chat"
)

// sessionEnv resolves the credentials shared by every command.
func sessionEnv() (userID, accessToken string) {
	return os.Getenv("MURMUR_USER_ID"), os.Getenv("MURMUR_ACCESS_TOKEN")
}

// startSession boots the app, registers handlers, and connects. The caller
// owns the returned bootCtx.
func startSession(ctx context.Context, configPath string, handlers chat.Handlers) (*bootCtx, error) {
	boot, err := bootstrap(configPath)
	if err != nil {
		return nil, err
	}
	client := boot.app.Chat()
	if err := client.InitChat(handlers); err != nil {
		boot.close()
		return nil, err
	}
	if err := client.ActivateConnection(); err != nil {
		boot.close()
		return nil, err
	}

	userID, accessToken := sessionEnv()
	if userID == "" || accessToken == "" {
		boot.close()
		return nil, fmt.Errorf("MURMUR_USER_ID and MURMUR_ACCESS_TOKEN must be set")
	}
	if err := client.Connect(ctx, userID, accessToken); err != nil {
		boot.close()
		return nil, err
	}
	return boot, nil
}

func newConnectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect and stream events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			boot, err := startSession(ctx, *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			boot.log.Info().Msg("connected, streaming events")
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return boot.app.Chat().Disconnect(shutdownCtx)
		},
	}
}

func newChannelsCmd(configPath *string) *cobra.Command {
	var scopeID string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := startSession(cmd.Context(), *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			channels, err := boot.app.Chat().Channels(cmd.Context(), scopeID)
			if err != nil {
				return err
			}
			printChannels(channels)
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeID, "scope", "", "restrict to one scope")
	return cmd
}

func newConversationsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List direct conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := startSession(cmd.Context(), *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			conversations, err := boot.app.Chat().Conversations(cmd.Context())
			if err != nil {
				return err
			}
			printChannels(conversations)
			return nil
		},
	}
}

func newSendCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel-id> <body>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := startSession(cmd.Context(), *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			result, err := boot.app.Chat().SendMessage(cmd.Context(), chat.SendMessageRequest{
				ChannelID: args[0],
				Body:      args[1],
			})
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", result.ID)
			return nil
		},
	}
}

func newBackupCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage the secure key backup",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show backup status",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := startSession(cmd.Context(), *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			backup, err := boot.app.Chat().GetSecureBackup(cmd.Context())
			if err != nil {
				return err
			}
			if backup == nil {
				fmt.Println("no backup configured")
				return nil
			}
			fmt.Printf("version=%s trusted=%t usable=%t\n", backup.Version, backup.IsTrusted, backup.IsUsable)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Generate and save a new backup, printing the recovery key",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := startSession(cmd.Context(), *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			client := boot.app.Chat()
			generated, err := client.GenerateSecureBackup(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.SaveSecureBackup(cmd.Context(), generated.RecoveryKey); err != nil {
				return err
			}
			fmt.Println("store this recovery key somewhere safe:")
			fmt.Println(generated.RecoveryKey)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <recovery-key>",
		Short: "Restore encryption keys from a recovery key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := startSession(cmd.Context(), *configPath, printHandlers())
			if err != nil {
				return err
			}
			defer boot.close()

			if err := boot.app.Chat().RestoreSecureBackup(cmd.Context(), args[0], ""); err != nil {
				return err
			}
			fmt.Println("backup restored")
			return nil
		},
	})

	return cmd
}

func printChannels(channels []chat.Channel) {
	for _, ch := range channels {
		name := ch.Name
		if name == "" && len(ch.OtherMembers) > 0 {
			name = ch.OtherMembers[0].DisplayName
			if name == "" {
				name = ch.OtherMembers[0].ID
			}
		}
		preview := ""
		if ch.LastMessage != nil {
			preview = ch.LastMessage.Body
		}
		fmt.Printf("%s\t%s\tunread=%d\t%s\n", ch.ID, name, ch.Unread.Total, preview)
	}
}

// printHandlers covers the full taxonomy by echoing each event to stdout.
func printHandlers() chat.Handlers {
	return chat.Handlers{
		MessageReceived: func(channelID string, message chat.Message) {
			fmt.Printf("[%s] %s: %s\n", channelID, message.SenderID, message.Body)
		},
		MessageUpdated: func(channelID string, message chat.Message) {
			fmt.Printf("[%s] %s (edited): %s\n", channelID, message.SenderID, message.Body)
		},
		MessageDeleted: func(channelID, messageID string) {
			fmt.Printf("[%s] message %s deleted\n", channelID, messageID)
		},
		MemberJoined: func(channelID string, user chat.User) {
			fmt.Printf("[%s] %s joined\n", channelID, user.ID)
		},
		MemberLeft: func(channelID, userID string) {
			fmt.Printf("[%s] %s left\n", channelID, userID)
		},
		RoomNameChanged: func(channelID, name string) {
			fmt.Printf("[%s] renamed to %q\n", channelID, name)
		},
		RoomAvatarChanged: func(channelID, url string) {
			fmt.Printf("[%s] avatar changed\n", channelID)
		},
		TypingChanged: func(channelID string, userIDs []string) {
			fmt.Printf("[%s] typing: %v\n", channelID, userIDs)
		},
		ReactionChanged: func(channelID string, reaction chat.Reaction) {
			fmt.Printf("[%s] reaction %s on %s\n", channelID, reaction.Key, reaction.MessageID)
		},
		ReadReceipt: func(channelID, messageID, userID string) {
			fmt.Printf("[%s] %s read up to %s\n", channelID, userID, messageID)
		},
		UnreadCountChanged: func(channelID string, unread chat.UnreadCount) {
			fmt.Printf("[%s] unread=%d highlight=%d\n", channelID, unread.Total, unread.Highlight)
		},
		InvalidSession: func() {
			fmt.Println("session invalid, re-authentication required")
		},
		InvitationReceived: func(channelID string) {
			fmt.Printf("joined %s by invitation\n", channelID)
		},
		ConversationUpdated: func(channel chat.Channel) {
			fmt.Printf("conversation %s is %s\n", channel.ID, channel.Status)
		},
	}
}
