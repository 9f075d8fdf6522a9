// chatctl 命令行聊天客户端：通过 REST 后端和实时通道收发消息
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freight-chat/config"
	"freight-chat/internal/service"
	"freight-chat/pkg/credential"
	"freight-chat/pkg/logger"
	"freight-chat/pkg/realtime"
	redisPkg "freight-chat/pkg/redis"
	"freight-chat/pkg/store/rest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Freight chat command line client",
	Long:          "chatctl talks to the chat backend over REST and the realtime socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app 一次命令执行所需的客户端组件
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	userID  string
	cred    credential.Provider
	backend *rest.Client
	session *realtime.Session
	cleanup []func()
}

func newApp() (*app, error) {
	cfg := config.LoadConfigFile(configPath)
	logCfg := cfg.Log
	logCfg.Filename = ""
	if verbose {
		logCfg.Level = "debug"
	}
	log := logger.InitLogger(logCfg)

	a := &app{cfg: cfg, log: log}
	hc := &http.Client{Timeout: cfg.Backend.Timeout}
	switch {
	case cfg.Backend.RefreshToken != "":
		a.cred = credential.NewRefreshing(cfg.Backend.Token, cfg.Backend.RefreshSkew,
			rest.NewRefreshFunc(cfg.Backend.BaseURL, cfg.Backend.RefreshToken, hc))
	case cfg.Backend.Token != "":
		a.cred = credential.Static(cfg.Backend.Token)
	default:
		return nil, errors.New("no credential configured: set backend.token or backend.refreshToken (see chatctl login)")
	}

	a.userID = cfg.Backend.UserID
	if a.userID == "" {
		token, err := a.cred.Credential(context.Background())
		if err != nil {
			return nil, err
		}
		a.userID = credential.Subject(token)
	}
	if a.userID == "" {
		return nil, errors.New("cannot determine current user: set backend.userID")
	}

	a.backend = rest.NewClient(cfg.Backend.BaseURL, a.cred, cfg.Backend.Timeout, rest.WithLogger(log))
	return a, nil
}

// queue 按配置选择离线队列，redis 队列在进程退出后仍保留未发送的操作
func (a *app) queue(ctx context.Context) (realtime.Queue, error) {
	if a.cfg.Realtime.QueueBackend != "redis" {
		return realtime.NewMemoryQueue(a.cfg.Realtime.QueueCapacity), nil
	}
	client, err := redisPkg.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, func() { _ = client.Close() })
	return redisPkg.NewOfflineQueue(client, a.userID, a.cfg.Realtime.QueueCapacity, a.log), nil
}

// connect 建立实时连接；失败时会话继续在后台重连，出站操作进入离线队列
func (a *app) connect(ctx context.Context, h realtime.Handlers) error {
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}
	rc := a.cfg.Realtime
	a.session = realtime.New(realtime.Config{
		URL:           rc.URL,
		MaxAttempts:   rc.MaxAttempts,
		RetryDelay:    rc.RetryDelay,
		RetryDelayMax: rc.RetryDelayMax,
		PingInterval:  rc.PingInterval,
		ReadTimeout:   rc.ReadTimeout,
		Queue:         q,
		Logger:        a.log,
	})
	a.cleanup = append(a.cleanup, a.session.Disconnect)
	return a.session.Connect(ctx, a.cred, a.userID, h)
}

// chat 构建聊天服务；withRealtime 时尝试连接实时通道
func (a *app) chat(ctx context.Context, withRealtime bool) *service.ChatService {
	opts := service.Options{
		Uploader: a.backend,
		PageSize: a.cfg.Backend.PageSize,
		Logger:   a.log,
	}
	if withRealtime && a.cfg.Realtime.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.connect(connectCtx, realtime.Handlers{}); err != nil {
			a.log.Warn("实时通道连接失败，事件将进入离线队列", zap.Error(err))
		}
		if a.session != nil {
			opts.Realtime = a.session
		}
	}
	return service.New(a.backend, opts)
}

func (a *app) close() {
	if a.session != nil {
		if n, err := a.session.Pending(context.Background()); err == nil && n > 0 {
			a.log.Info("仍有未发送的实时事件", zap.Int("pending", n))
		}
	}
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	_ = logger.Sync()
}

// run 为子命令准备 app 并在结束时释放
func run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
