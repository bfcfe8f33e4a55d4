package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/voicesync/internal/app/client"
	"github.com/dkeye/voicesync/internal/app/history"
	"github.com/dkeye/voicesync/internal/app/voice"
	"github.com/dkeye/voicesync/internal/config"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Controller is the part of the client the control API drives.
type Controller interface {
	Status() client.Status
	JoinVoice(ctx context.Context, channelID domain.ID) error
	LeaveVoice()
	VoiceView() client.VoiceView
	OpenChannel(ctx context.Context, serverID, channelID domain.ID) *history.Feed
	CloseChannel(channelID domain.ID)
	Messages(channelID domain.ID) ([]domain.Message, bool, error)
	SendMessage(ctx context.Context, channelID domain.ID, content string) (domain.Message, error)
	EditMessage(ctx context.Context, channelID, messageID domain.ID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID domain.ID) error
	StartTyping(channelID domain.ID) (bool, error)
	Server(serverID domain.ID) (client.ServerView, error)
}

// RequestIDMiddleware tags every request so its log lines can be correlated.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

type contentBody struct {
	Content string `json:"content" binding:"required"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	log.Info().Str("module", "adapters.http").Str("addr", cfg.ControlAddr).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Status())
	})

	v := api.Group("/voice")
	v.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.VoiceView())
	})
	v.POST("/join/:channelID", func(c *gin.Context) {
		channelID := domain.ID(c.Param("channelID"))
		log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Str("channel_id", channelID.String()).Msg("voice join")
		// The join outlives the request: negotiation continues after we reply.
		if err := ctrl.JoinVoice(context.WithoutCancel(c.Request.Context()), channelID); err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusAccepted, ctrl.VoiceView())
	})
	v.POST("/leave", func(c *gin.Context) {
		ctrl.LeaveVoice()
		c.Status(http.StatusNoContent)
	})

	s := api.Group("/servers/:serverID")
	s.GET("", func(c *gin.Context) {
		view, ok := server(c, ctrl)
		if ok {
			c.JSON(http.StatusOK, view)
		}
	})
	s.GET("/members", func(c *gin.Context) {
		if view, ok := server(c, ctrl); ok {
			c.JSON(http.StatusOK, view.Members)
		}
	})
	s.GET("/presence", func(c *gin.Context) {
		if view, ok := server(c, ctrl); ok {
			c.JSON(http.StatusOK, view.Presence)
		}
	})
	s.GET("/voice", func(c *gin.Context) {
		if view, ok := server(c, ctrl); ok {
			c.JSON(http.StatusOK, view.Voice)
		}
	})

	ch := s.Group("/channels/:channelID")
	ch.POST("/open", func(c *gin.Context) {
		serverID, channelID := domain.ID(c.Param("serverID")), domain.ID(c.Param("channelID"))
		ctrl.OpenChannel(ctx, serverID, channelID)
		c.JSON(http.StatusAccepted, gin.H{"server_id": serverID, "channel_id": channelID})
	})
	ch.DELETE("/open", func(c *gin.Context) {
		ctrl.CloseChannel(domain.ID(c.Param("channelID")))
		c.Status(http.StatusNoContent)
	})
	ch.GET("/messages", func(c *gin.Context) {
		msgs, loading, err := ctrl.Messages(domain.ID(c.Param("channelID")))
		if errors.Is(err, history.ErrNotOpen) {
			abort(c, err)
			return
		}
		body := gin.H{"messages": msgs, "loading": loading}
		if err != nil {
			body["error"] = err.Error()
		}
		c.JSON(http.StatusOK, body)
	})
	ch.POST("/messages", func(c *gin.Context) {
		var body contentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := ctrl.SendMessage(c.Request.Context(), domain.ID(c.Param("channelID")), body.Content)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	})
	ch.PATCH("/messages/:messageID", func(c *gin.Context) {
		var body contentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ctrl.EditMessage(c.Request.Context(), domain.ID(c.Param("channelID")), domain.ID(c.Param("messageID")), body.Content); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	ch.DELETE("/messages/:messageID", func(c *gin.Context) {
		if err := ctrl.DeleteMessage(c.Request.Context(), domain.ID(c.Param("channelID")), domain.ID(c.Param("messageID"))); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	ch.POST("/typing", func(c *gin.Context) {
		sent, err := ctrl.StartTyping(domain.ID(c.Param("channelID")))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sent": sent})
	})

	return r
}

func server(c *gin.Context, ctrl Controller) (client.ServerView, bool) {
	view, err := ctrl.Server(domain.ID(c.Param("serverID")))
	if err != nil {
		abort(c, err)
		return client.ServerView{}, false
	}
	return view, true
}

func abort(c *gin.Context, err error) {
	var merr *voice.MediaAcquisitionError
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, history.ErrNotOpen), errors.Is(err, client.ErrServerNotOpen):
		code = http.StatusNotFound
	case errors.Is(err, voice.ErrNoChannel):
		code = http.StatusBadRequest
	case errors.Is(err, voice.ErrSuperseded):
		code = http.StatusConflict
	case errors.As(err, &merr):
		code = http.StatusServiceUnavailable
	}
	log.Warn().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Err(err).Int("status", code).Msg("request failed")
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
