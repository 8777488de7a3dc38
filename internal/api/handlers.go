package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/distantorigin/craftlauncher/internal/catalog"
	"github.com/distantorigin/craftlauncher/internal/channel"
	"github.com/distantorigin/craftlauncher/internal/launch"
	"github.com/distantorigin/craftlauncher/internal/store"
	"github.com/distantorigin/craftlauncher/internal/version"
)

type errorResponse struct {
	Error string   `json:"error"`
	Kind  string   `json:"kind,omitempty"`
	Paths []string `json:"paths,omitempty"`
}

type createRequest struct {
	Name          string `json:"name"`
	GameVersion   string `json:"game_version"`
	Loader        string `json:"loader"`
	LoaderVersion string `json:"loader_version"`
}

type stateResponse struct {
	launch.Status
	Message string `json:"message,omitempty"`
}

type versionsResponse struct {
	Channel  channel.Channel `json:"channel"`
	Versions []string        `json:"versions"`
}

// statusFor maps package errors onto HTTP status codes
func statusFor(err error) int {
	var launchErr *launch.Error
	if errors.As(err, &launchErr) {
		switch launchErr.Kind {
		case launch.KindNotFound:
			return http.StatusNotFound
		case launch.KindBusy, launch.KindUpdating:
			return http.StatusConflict
		case launch.KindCatalogUnavailable, launch.KindDownload:
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrBusy), errors.Is(err, launch.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *echo.Context, err error) error {
	resp := errorResponse{Error: err.Error()}
	var launchErr *launch.Error
	if errors.As(err, &launchErr) {
		resp.Kind = string(launchErr.Kind)
		resp.Paths = launchErr.Paths
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request().URL.Path, "error", err)
	}
	return c.JSON(code, resp)
}

func (s *Server) listInstances(c *echo.Context) error {
	list, err := s.instances.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if list == nil {
		list = []*store.Instance{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createInstance(c *echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	loader, err := version.ParseLoader(req.Loader)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	inst, err := s.instances.Create(c.Request().Context(), store.Spec{
		Name:          req.Name,
		GameVersion:   req.GameVersion,
		Loader:        loader,
		LoaderVersion: req.LoaderVersion,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

func (s *Server) getInstance(c *echo.Context) error {
	inst, err := s.instances.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (s *Server) removeInstance(c *echo.Context) error {
	if err := s.instances.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) instanceState(c *echo.Context) error {
	id := c.Param("id")
	if _, err := s.instances.Get(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	st := s.lifecycle.State(id)
	resp := stateResponse{Status: st}
	if st.Error != nil {
		resp.Message = st.Error.Message()
	}
	return c.JSON(http.StatusOK, resp)
}

// startSession runs a session in the background; progress is observed
// through the state endpoint. An instance that already has a session is
// refused before anything starts.
func (s *Server) startSession(c *echo.Context, name string, run func(id string) error) error {
	id := c.Param("id")
	if _, err := s.instances.Get(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	if st := s.lifecycle.State(id); st.State != launch.Idle {
		return s.fail(c, busyError(id, st.State))
	}

	go func() {
		if err := run(id); err != nil {
			s.logger.Warn(name+" ended with error", "instance", id, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"instance_id": id, "action": name})
}

func busyError(id string, state launch.State) *launch.Error {
	if state == launch.Updating {
		return &launch.Error{Kind: launch.KindUpdating, Err: fmt.Errorf("%w: %s", launch.ErrUpdating, id)}
	}
	return &launch.Error{Kind: launch.KindBusy, Err: fmt.Errorf("%w: %s is %s", store.ErrBusy, id, state)}
}

func (s *Server) syncInstance(c *echo.Context) error {
	return s.startSession(c, "sync", func(id string) error {
		return s.lifecycle.Sync(s.background, id)
	})
}

func (s *Server) launchInstance(c *echo.Context) error {
	return s.startSession(c, "launch", func(id string) error {
		return s.lifecycle.Launch(s.background, id)
	})
}

func (s *Server) cancelInstance(c *echo.Context) error {
	if err := s.lifecycle.Cancel(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listVersions(c *echo.Context) error {
	ch := s.channel
	if q := c.QueryParam("channel"); q != "" {
		parsed, err := channel.Parse(q)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		ch = parsed
	}

	versions, err := s.versions.Versions(c.Request().Context(), ch)
	if err != nil {
		return s.fail(c, err)
	}
	if versions == nil {
		versions = []string{}
	}
	return c.JSON(http.StatusOK, versionsResponse{Channel: ch, Versions: versions})
}
