package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"freight-chat/internal/model"
	"freight-chat/internal/service"
	"freight-chat/pkg/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pageLimit        int
	pageOffset       int
	readConversation int64
)

func init() {
	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd, deleteCmd, readCmd, attachCmd)

	messagesCmd.Flags().IntVar(&pageLimit, "limit", 0, "page size (default from backend.pageSize)")
	messagesCmd.Flags().IntVar(&pageOffset, "offset", 0, "number of messages to skip")
	readCmd.Flags().Int64Var(&readConversation, "conversation", 0, "conversation of the message; without a message id marks the whole conversation read")
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		views, err := a.chat(ctx, false).ListConversations(ctx, a.userID)
		if err != nil {
			return err
		}
		return printJSON(views)
	}),
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		convID, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		svc := a.chat(ctx, false)
		if _, err := svc.GetConversation(ctx, a.userID, convID); err != nil {
			return err
		}
		msgs, err := svc.GetMessages(ctx, a.userID, convID, service.Page{Limit: pageLimit, Offset: pageOffset})
		if err != nil {
			return err
		}
		return printJSON(msgs)
	}),
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>...",
	Short: "Send a message and announce it on the realtime channel",
	Args:  cobra.MinimumNArgs(2),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		convID, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		svc := a.chat(ctx, true)
		if _, err := svc.GetConversation(ctx, a.userID, convID); err != nil {
			return err
		}
		res, err := svc.SendMessage(ctx, service.SendRequest{
			ConversationID: convID,
			SenderID:       a.userID,
			Text:           strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		if res.RepairErr != nil {
			a.log.Warn("消息已发送，但会话计数更新失败", zap.Error(res.RepairErr))
		}
		return printJSON(map[string]any{
			"message":  res.Message,
			"delivery": res.Delivery.String(),
		})
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		msgID, err := parseID(args[0], "message id")
		if err != nil {
			return err
		}
		res, err := a.chat(ctx, true).DeleteMessage(ctx, a.userID, msgID)
		if err != nil {
			return err
		}
		if res.RepairErr != nil {
			a.log.Warn("消息已删除，但会话计数更新失败", zap.Error(res.RepairErr))
		}
		out := map[string]any{"deleted": msgID, "delivery": res.Delivery.String()}
		if res.Conversation != nil {
			out["total_message_count"] = res.Conversation.TotalMessageCount
			out["last_message_id"] = res.Conversation.LastMessageID
		}
		return printJSON(out)
	}),
}

var readCmd = &cobra.Command{
	Use:   "read [message-id]",
	Short: "Mark a message, or with --conversation a whole conversation, as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		convID := readConversation
		svc := a.chat(ctx, true)

		if len(args) == 0 {
			if convID <= 0 {
				return fmt.Errorf("message id or --conversation required")
			}
			n, err := svc.MarkConversationAsRead(ctx, a.userID, convID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"conversation_id": convID, "marked": n})
		}

		msgID, err := parseID(args[0], "message id")
		if err != nil {
			return err
		}
		if convID <= 0 {
			rec, err := a.backend.Get(ctx, model.CollectionMessages, msgID, "conversation_id")
			if err != nil {
				return err
			}
			convID, _ = store.ToInt64(rec["conversation_id"])
		}
		receipt, err := svc.MarkAsRead(ctx, a.userID, msgID, convID)
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var attachCmd = &cobra.Command{
	Use:   "attach <message-id> <file>",
	Short: "Upload a file and attach it to a message",
	Args:  cobra.ExactArgs(2),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		msgID, err := parseID(args[0], "message id")
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		name := filepath.Base(args[1])
		att, err := a.chat(ctx, false).UploadAttachment(ctx, msgID, name, mime.TypeByExtension(filepath.Ext(name)), f)
		if err != nil {
			return err
		}
		return printJSON(att)
	}),
}
