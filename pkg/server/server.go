package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"calendarbot/pkg/bot/activityadapter"
	"calendarbot/pkg/oauthconn"
	"calendarbot/pkg/ports/botport"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const signedInPage = "You are signed in. Return to the conversation and send any message to continue."

// TurnHandler runs one inbound activity.
type TurnHandler interface {
	HandleTurn(ctx context.Context, activity botport.Activity, port botport.BotPort) error
}

// CallbackHandler completes an OAuth authorization-code redirect.
type CallbackHandler interface {
	Callback(ctx context.Context, state, code string) (string, error)
}

// Server exposes the activity endpoint and the OAuth redirect target.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	turns  TurnHandler
	oauth  CallbackHandler
	logger *zap.Logger
}

func New(addr string, turns TurnHandler, oauth CallbackHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: gin.New(),
		turns:  turns,
		oauth:  oauth,
		logger: logger,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.POST("/api/messages", s.handleMessages)
	s.engine.GET("/oauth/callback", s.handleOAuthCallback)
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks until the server stops. A graceful Shutdown is not reported as an error.
func (s *Server) Start() error {
	s.logger.Info("[Start] listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleMessages(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var activity botport.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid activity"})
		return
	}
	if activity.Type == "" || activity.Conversation.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "activity type and conversation are required"})
		return
	}

	port := activityadapter.New(activity)
	if err := s.turns.HandleTurn(c.Request.Context(), activity, port); err != nil {
		// The apology is already among the replies.
		s.logger.Error("[handleMessages] turn failed",
			zap.String("channel", activity.ChannelID),
			zap.String("conversation", activity.Conversation.ID),
			zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"activities": port.Replies()})
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" {
		s.logger.Warn("[handleOAuthCallback] provider returned an error",
			zap.String("error", providerErr),
			zap.String("description", c.Query("error_description")))
		c.String(http.StatusBadRequest, "Sign-in failed: %s", providerErr)
		return
	}

	userKey, err := s.oauth.Callback(c.Request.Context(), c.Query("state"), c.Query("code"))
	switch {
	case errors.Is(err, oauthconn.ErrUnknownState), errors.Is(err, oauthconn.ErrMissingCode):
		c.String(http.StatusBadRequest, "Sign-in link is invalid or expired. Send a message to the bot to get a new one.")
		return
	case err != nil:
		s.logger.Error("[handleOAuthCallback] code exchange failed", zap.Error(err))
		c.String(http.StatusBadGateway, "Sign-in could not be completed. Please try again.")
		return
	}

	s.logger.Info("[handleOAuthCallback] user signed in", zap.String("user", userKey))
	c.String(http.StatusOK, signedInPage)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("[requestLogger] request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
