package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/dispatcher"
	"github.com/vibast-solutions/ms-go-collector/app/dto"
	"github.com/vibast-solutions/ms-go-collector/app/processor"
	"github.com/vibast-solutions/ms-go-collector/app/queue"
	"github.com/vibast-solutions/ms-go-collector/app/repository"
	"github.com/vibast-solutions/ms-go-collector/app/service"
)

// Publisher enqueues flush requests.
type Publisher interface {
	Publish(ctx context.Context, msg queue.FlushMessage) error
}

// FlagWriter persists a processor flush flag where every collector process reads it.
type FlagWriter interface {
	Store(ctx context.Context, name string, enabled bool) error
}

// ToggleObserver is notified after a processor flush flag changes.
type ToggleObserver func(processor string, enabled bool)

type processorView struct {
	Name         string `json:"name"`
	Toggleable   bool   `json:"toggleable"`
	FlushEnabled *bool  `json:"flush_enabled,omitempty"`
	Pending      *int   `json:"pending,omitempty"`
}

type SpoolController struct {
	spoolService *service.SpoolService
	dispatcher   *dispatcher.Dispatcher
	publisher    Publisher
	flags        FlagWriter
	onToggle     ToggleObserver
	logger       logrus.FieldLogger
}

// NewSpoolController constructs the spool management controller. flags and
// onToggle may be nil, in which case toggles only affect this process.
func NewSpoolController(spoolService *service.SpoolService, d *dispatcher.Dispatcher, publisher Publisher, flags FlagWriter, onToggle ToggleObserver, logger logrus.FieldLogger) *SpoolController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SpoolController{
		spoolService: spoolService,
		dispatcher:   d,
		publisher:    publisher,
		flags:        flags,
		onToggle:     onToggle,
		logger:       logger.WithField("component", "spool-controller"),
	}
}

// RegisterRoutes mounts the spool endpoints on g.
func (c *SpoolController) RegisterRoutes(g *echo.Group) {
	g.GET("/processors", c.ListProcessors)
	g.GET("/processors/:name/flush", c.FlushStatus)
	g.POST("/processors/:name/flush/enable", c.EnableFlush)
	g.POST("/processors/:name/flush/disable", c.DisableFlush)
	g.GET("/pending", c.Pending)
	g.POST("/flush", c.Flush)
	g.GET("/flush/:request_id", c.FlushHistory)
}

// ListProcessors describes every active processor.
func (c *SpoolController) ListProcessors(ctx echo.Context) error {
	processors := c.dispatcher.Processors()
	views := make([]processorView, 0, len(processors))
	for _, p := range processors {
		view := processorView{Name: p.Name()}
		if toggler, ok := p.(processor.FlushToggler); ok {
			enabled := toggler.FlushEnabled()
			view.Toggleable = true
			view.FlushEnabled = &enabled
		}
		if counter, ok := p.(processor.PendingCounter); ok {
			if pending, err := counter.PendingFiles(); err == nil {
				view.Pending = &pending
			} else {
				c.logger.WithError(err).WithField("processor", p.Name()).Warn("failed to count pending files")
			}
		}
		views = append(views, view)
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"processors": views})
}

// FlushStatus returns the flush flag of one processor.
func (c *SpoolController) FlushStatus(ctx echo.Context) error {
	toggler, name, err := c.toggler(ctx)
	if err != nil {
		return err
	}
	if toggler == nil {
		return nil
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"name": name, "flush_enabled": toggler.FlushEnabled()})
}

// EnableFlush turns delivery on for one processor. Repeated calls are no-ops.
func (c *SpoolController) EnableFlush(ctx echo.Context) error {
	return c.setFlush(ctx, true)
}

// DisableFlush turns delivery off for one processor. Repeated calls are no-ops.
func (c *SpoolController) DisableFlush(ctx echo.Context) error {
	return c.setFlush(ctx, false)
}

func (c *SpoolController) setFlush(ctx echo.Context, enabled bool) error {
	toggler, name, err := c.toggler(ctx)
	if err != nil {
		return err
	}
	if toggler == nil {
		return nil
	}
	if c.flags != nil {
		if err := c.flags.Store(ctx.Request().Context(), name, enabled); err != nil {
			c.logger.WithError(err).WithField("processor", name).Error("failed to persist flush flag")
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to persist flush flag"})
		}
	}
	if enabled {
		toggler.EnableFlush()
	} else {
		toggler.DisableFlush()
	}
	c.logger.WithFields(logrus.Fields{"processor": name, "flush_enabled": enabled}).Info("processor flush toggled")
	if c.onToggle != nil {
		c.onToggle(name, enabled)
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"name": name, "flush_enabled": toggler.FlushEnabled()})
}

// toggler resolves the :name parameter. A nil toggler means the error
// response has already been written.
func (c *SpoolController) toggler(ctx echo.Context) (processor.FlushToggler, string, error) {
	name := ctx.Param("name")
	p, ok := c.dispatcher.Processor(name)
	if !ok {
		return nil, name, ctx.JSON(http.StatusNotFound, map[string]string{"error": "unknown processor"})
	}
	toggler, ok := p.(processor.FlushToggler)
	if !ok {
		return nil, name, ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "processor does not support flush toggling"})
	}
	return toggler, name, nil
}

// Pending reports the spool backlog.
func (c *SpoolController) Pending(ctx echo.Context) error {
	pending, err := c.spoolService.Pending()
	if err != nil {
		c.logger.WithError(err).Error("failed to count spool files")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to count spool files"})
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"pending": pending,
		"stats":   c.dispatcher.Stats(),
	})
}

// Flush validates and enqueues a flush request.
func (c *SpoolController) Flush(ctx echo.Context) error {
	req, err := dto.FromEchoContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := c.publisher.Publish(ctx.Request().Context(), queue.FlushMessage{
		RequestID: req.RequestID,
		Reason:    req.Reason,
	}); err != nil {
		c.logger.WithError(err).WithField("request_id", req.RequestID).Error("failed to queue flush request")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to queue flush"})
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{"message": "flush accepted", "request_id": req.RequestID})
}

// FlushHistory returns the recorded outcome of a flush request.
func (c *SpoolController) FlushHistory(ctx echo.Context) error {
	h, err := c.spoolService.History(ctx.Request().Context(), ctx.Param("request_id"))
	if errors.Is(err, repository.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "flush request not found"})
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to load flush history")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load flush history"})
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"request_id": h.RequestID,
		"reason":     h.Reason,
		"status":     h.Status,
		"files":      h.Files,
		"delivered":  h.Delivered,
		"failed":     h.Failed,
		"deferred":   h.Deferred,
		"removed":    h.Removed,
		"created_at": h.CreatedAt,
	})
}
