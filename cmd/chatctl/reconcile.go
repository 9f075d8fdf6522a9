package main

import (
	"context"
	"net/http"
	"os"

	"freight-chat/config"
	"freight-chat/internal/service"
	"freight-chat/pkg/credential"
	"freight-chat/pkg/store/rest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reconcileWatch bool
	loginPassword  string
)

func init() {
	rootCmd.AddCommand(reconcileCmd, loginCmd)
	reconcileCmd.Flags().BoolVar(&reconcileWatch, "watch", false, "keep running on reconcile.schedule until interrupted")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (default $CHAT_PASSWORD)")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [conversation-id]",
	Short: "Recompute message counts and last-message pointers",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		svc := a.chat(ctx, true)

		if len(args) == 1 {
			convID, err := parseID(args[0], "conversation id")
			if err != nil {
				return err
			}
			res, err := svc.ReconcileConversation(ctx, convID)
			if err != nil {
				return err
			}
			return printJSON(res)
		}

		r, err := service.NewReconciler(svc, a.cfg.Reconcile.Schedule, a.cfg.Reconcile.BatchSize)
		if err != nil {
			return err
		}
		if reconcileWatch {
			a.log.Info("按计划校验会话", zap.String("schedule", a.cfg.Reconcile.Schedule))
			r.Start(ctx)
			<-ctx.Done()
			return nil
		}
		fixed, err := r.RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"fixed": len(fixed), "results": fixed})
	}),
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and print an access/refresh token pair",
	Long:  "login exchanges email and password for tokens. Put the refresh token in backend.refreshToken (or BACKEND_REFRESH_TOKEN) to stay signed in.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfigFile(configPath)
		pass := loginPassword
		if pass == "" {
			pass = os.Getenv("CHAT_PASSWORD")
		}
		tokens, err := rest.Login(cmd.Context(), cfg.Backend.BaseURL, args[0], pass, &http.Client{Timeout: cfg.Backend.Timeout})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"user_id":       credential.Subject(tokens.AccessToken),
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires":       tokens.Expires,
		})
	},
}
