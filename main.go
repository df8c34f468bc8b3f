package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"calendarbot/pkg/bot"
	"calendarbot/pkg/bot/consoleadapter"
	"calendarbot/pkg/bot/telegramadapter"
	"calendarbot/pkg/config"
	"calendarbot/pkg/ports/botport"
	"calendarbot/pkg/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath   string
	modeOverride string
)

var rootCmd = &cobra.Command{
	Use:   "calendarbot",
	Short: "Calendar bot that signs users in and relays commands to Microsoft Graph",
	Long: `calendarbot signs users in through an OAuth connection and answers
mycalendar, groupcalendar, setappointment and create group calendar
against Microsoft Graph. In profile mode it instead collects an event
subject, body, start, end and location one question at a time.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP activity endpoint and, when enabled, the Telegram channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot on the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&modeOverride, "mode", "", "dialog mode: wizard or profile (overrides config)")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies --mode before validation so mode-specific checks see the final value.
func loadConfig() (*config.Config, error) {
	if modeOverride != "" {
		if err := os.Setenv("BOT_MODE", modeOverride); err != nil {
			return nil, fmt.Errorf("set mode: %w", err)
		}
	}
	if err := config.LoadConfig(configPath); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return config.GetConfig(), nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	srv := server.New(cfg.Server.Addr, app.bot, app.oauth, logger.Named("server"))

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.Telegram.Enabled {
		client, err := bot.NewClient(cfg.Telegram.Token, logger.Named("telegram"))
		if err != nil {
			return fmt.Errorf("failed to initialize telegram client: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runTelegram(ctx, cfg.Telegram, client, app, logger.Named("telegram")); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info("[runServe] calendarbot started", zap.String("mode", app.bot.Mode()), zap.String("addr", cfg.Server.Addr))

	select {
	case <-ctx.Done():
		logger.Info("[runServe] shutdown signal received")
	case err = <-errCh:
		logger.Error("[runServe] component failed, shutting down", zap.Error(err))
	}

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("[runServe] http shutdown", zap.Error(shutdownErr))
	}
	wg.Wait()
	return err
}

// runTelegram polls for updates until ctx is done. Updates of one chat are handled in
// arrival order; different chats run concurrently.
func runTelegram(ctx context.Context, cfg config.TelegramConfig, client *bot.Client, app *application, logger *zap.Logger) error {
	port, err := telegramadapter.New(client, logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram adapter: %w", err)
	}

	updates := client.GetUpdatesChan(cfg.Timeout)
	logger.Info("[runTelegram] starting update processing", zap.String("username", client.Self.UserName))

	turns := telegramadapter.NewSequencer(func(ctx context.Context, act botport.Activity) {
		if act.Type == botport.ActivityMessage {
			if chatID, err := strconv.ParseInt(act.Conversation.ID, 10, 64); err == nil {
				_ = client.SendTypingAction(chatID)
			}
		}
		if err := app.bot.HandleTurn(ctx, act, port); err != nil {
			logger.Error("[runTelegram] turn failed", zap.String("conversation", act.Conversation.ID), zap.Error(err))
		}
	})
	defer turns.Wait()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			activity, ok := telegramadapter.ActivityFromUpdate(update, client.Self)
			if !ok {
				logger.Debug("[runTelegram] ignoring update", zap.Int("update_id", update.UpdateID))
				continue
			}
			turns.Submit(ctx, activity)
		case <-ctx.Done():
			logger.Info("[runTelegram] stopping update processing loop")
			client.StopReceivingUpdates()
			return nil
		}
	}
}

const (
	chatConversationID = "local"
	chatUserID         = "local-user"
)

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// keep the terminal for the conversation
	logger, err := newLogger("error")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.bot.Mode() == config.ModeWizard {
		srv := server.New(cfg.Server.Addr, app.bot, app.oauth, logger.Named("server"))
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("[runChat] oauth callback listener failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	port := consoleadapter.New(out)
	base := botport.Activity{
		ChannelID:    consoleadapter.ChannelID,
		From:         botport.ChannelAccount{ID: chatUserID, Name: "you"},
		Recipient:    &botport.ChannelAccount{ID: "calendarbot"},
		Conversation: botport.ConversationAccount{ID: chatConversationID},
		Locale:       "en-US",
	}

	greet := base
	greet.Type = botport.ActivityConversationUpdate
	greet.MembersAdded = []botport.ChannelAccount{base.From}
	if err := app.bot.HandleTurn(ctx, greet, port); err != nil {
		return err
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(out, "you> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if strings.TrimSpace(line) == "/quit" {
				return nil
			}
			msg := base
			msg.Type = botport.ActivityMessage
			msg.ID = fmt.Sprintf("%d", time.Now().UnixNano())
			msg.Timestamp = time.Now().UTC()
			msg.Text = line
			if err := app.bot.HandleTurn(ctx, msg, port); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("[runChat] turn failed", zap.Error(err))
			}
		}
	}
}
