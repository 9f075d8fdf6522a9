package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"freight-chat/pkg/realtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenJoin []int64

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().Int64SliceVar(&listenJoin, "join", nil, "conversation ids to join (default: all of your conversations)")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to the realtime channel and print incoming events",
	Args:  cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var mu sync.Mutex
		emit := func(event string, data any) {
			mu.Lock()
			defer mu.Unlock()
			if err := printJSON(map[string]any{"event": event, "data": data}); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		var giveUp error
		h := realtime.Handlers{
			OnConnect:    func() { a.log.Info("已注册实时连接", zap.String("user_id", a.userID)) },
			OnDisconnect: func(err error) { a.log.Warn("实时连接断开，正在重连", zap.Error(err)) },
			OnGiveUp: func(err error) {
				giveUp = err
				cancel()
			},
			OnServerError:         func(ev realtime.ErrorEvent) { emit(realtime.EventError, ev) },
			OnMessage:             func(ev realtime.MessageEvent) { emit(realtime.EventMessageReceived, ev) },
			OnTypingStart:         func(ev realtime.TypingEvent) { emit(realtime.EventTypingIndicator, ev) },
			OnTypingStop:          func(ev realtime.TypingEvent) { emit(realtime.EventTypingIndicator, ev) },
			OnMessageRead:         func(ev realtime.ReceiptEvent) { emit(realtime.EventMessageMarkedRead, ev) },
			OnMessageDelivered:    func(ev realtime.ReceiptEvent) { emit(realtime.EventMessageDelivered, ev) },
			OnReactionAdded:       func(ev realtime.ReactionEvent) { emit(realtime.EventReactionAdded, ev) },
			OnReactionRemoved:     func(ev realtime.ReactionEvent) { emit(realtime.EventReactionRemoved, ev) },
			OnUserOnline:          func(ev realtime.PresenceEvent) { emit(realtime.EventUserOnline, ev) },
			OnUserOffline:         func(ev realtime.PresenceEvent) { emit(realtime.EventUserOffline, ev) },
			OnUserJoined:          func(ev realtime.MembershipEvent) { emit(realtime.EventUserJoined, ev) },
			OnUserLeft:            func(ev realtime.MembershipEvent) { emit(realtime.EventUserLeft, ev) },
			OnConversationUpdated: func(ev realtime.ConversationUpdate) { emit(realtime.EventConversationUpdated, ev) },
		}

		if err := a.connect(ctx, h); err != nil {
			return err
		}

		rooms := listenJoin
		if len(rooms) == 0 {
			views, err := a.chat(ctx, false).ListConversations(ctx, a.userID)
			if err != nil {
				return err
			}
			for _, v := range views {
				rooms = append(rooms, v.ID)
			}
		}
		for _, id := range rooms {
			if _, err := a.session.JoinConversation(ctx, id); err != nil {
				a.log.Warn("加入会话失败", zap.Int64("conversation_id", id), zap.Error(err))
			}
		}
		a.log.Info("正在监听实时事件", zap.Int("rooms", len(rooms)))

		<-ctx.Done()
		return giveUp
	}),
}
