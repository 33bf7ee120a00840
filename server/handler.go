package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-chatroom/chat"
	"github.com/vultisig/vultisig-chatroom/contexthelper"
	"github.com/vultisig/vultisig-chatroom/model"
	"github.com/vultisig/vultisig-chatroom/session"
)

const (
	// UserHeader names the acting participant when no session token is sent.
	UserHeader         = "User"
	SessionTokenHeader = "X-Session-Token"
	userKey            = "user"
)

type Server struct {
	port   int64
	chat   *chat.Service
	tokens *session.Issuer
	e      *echo.Echo
}

// NewServer returns a new server. tokens may be nil, then the User header identifies callers.
// Otherwise every identified route requires a bearer session token.
func NewServer(port int64, svc *chat.Service, tokens *session.Issuer, level log.Lvl) *Server {
	s := &Server{
		port:   port,
		chat:   svc,
		tokens: tokens,
		e:      echo.New(),
	}
	s.routes(level)
	return s
}

func (s *Server) routes(level log.Lvl) {
	e := s.e
	e.HideBanner = true
	e.Logger.SetLevel(level)
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	//enable cors
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		ExposeHeaders: []string{SessionTokenHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.GET("/ping", s.Ping)
	e.POST("/participants", s.Register)
	e.GET("/participants", s.ListParticipants)
	e.POST("/messages", s.PostMessage, s.identify)
	e.GET("/messages", s.GetMessages, s.identify)
	e.DELETE("/messages/:id", s.DeleteMessage, s.identify)
	e.POST("/status", s.Status, s.identify)
}

// Logger is the echo logger, shared with the background tasks.
func (s *Server) Logger() echo.Logger {
	return s.e.Logger
}

func (s *Server) StartServer() error {
	return s.e.Start(fmt.Sprintf(":%d", s.port))
}

func (s *Server) StopServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return s.e.Shutdown(ctx)
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Chatroom is running")
}

// identify resolves the acting participant: the subject of the bearer session token when tokens are enabled,
// otherwise the User header as sent.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.tokens == nil {
			c.Set(userKey, c.Request().Header.Get(UserHeader))
			return next(c)
		}
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(auth, "Bearer ") {
			return c.String(http.StatusUnauthorized, "missing session token")
		}
		name, err := s.tokens.Parse(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Set(userKey, name)
		return next(c)
	}
}

func actingUser(c echo.Context) string {
	user, _ := c.Get(userKey).(string)
	return user
}

// Register adds a participant to the room.
func (s *Server) Register(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return s.bindFailed(c, err)
	}
	if err := s.chat.Register(c.Request().Context(), body.Name); err != nil {
		return s.fail(c, err)
	}
	if s.tokens != nil {
		token, err := s.tokens.Issue(body.Name)
		if err != nil {
			// the participant is registered, the client falls back to the User header
			c.Logger().Errorf("fail to issue session token for %s, err: %s", body.Name, err)
		} else {
			c.Response().Header().Set(SessionTokenHeader, token)
		}
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) ListParticipants(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	participants, err := s.chat.Participants(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if participants == nil {
		participants = []model.Participant{}
	}
	return c.JSON(http.StatusOK, participants)
}

func (s *Server) PostMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	var req chat.SendRequest
	if err := c.Bind(&req); err != nil {
		return s.bindFailed(c, err)
	}
	user := actingUser(c)
	c.Logger().Debug("message from ", user, " to ", req.To)
	if err := s.chat.Send(c.Request().Context(), user, req); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) GetMessages(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	limit, err := chat.ParseLimit(c.QueryParam("limit"))
	if err != nil {
		return s.fail(c, err)
	}
	messages, err := s.chat.Messages(c.Request().Context(), actingUser(c), limit)
	if err != nil {
		return s.fail(c, err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

// DeleteMessage is to delete a message. Only its sender may do it.
func (s *Server) DeleteMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	id := strings.TrimSpace(c.Param("id"))
	if err := s.chat.Delete(c.Request().Context(), actingUser(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// Status is the participant heartbeat.
func (s *Server) Status(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	if err := s.chat.Heartbeat(c.Request().Context(), actingUser(c)); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// fail writes the status code for err. Store failures go out as 500 with the error text.
func (s *Server) fail(c echo.Context, err error) error {
	var validationErr *chat.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusUnprocessableEntity, validationErr.Details)
	case errors.Is(err, chat.ErrNotParticipant):
		return c.String(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, chat.ErrConflict):
		return c.NoContent(http.StatusConflict)
	case errors.Is(err, chat.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, chat.ErrForbidden):
		return c.NoContent(http.StatusUnauthorized)
	}
	c.Logger().Errorf("request failed, err: %s", err)
	return c.String(http.StatusInternalServerError, err.Error())
}

// bindFailed answers 422 when the body is valid JSON holding a field of the wrong type, 400 otherwise.
func (s *Server) bindFailed(c echo.Context, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		detail := fmt.Sprintf("%q must be a %s", typeErr.Field, typeErr.Type.Kind())
		return s.fail(c, &chat.ValidationError{Details: []string{detail}})
	}
	c.Logger().Error(err)
	return c.NoContent(http.StatusBadRequest)
}
