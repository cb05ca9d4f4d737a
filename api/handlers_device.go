// handlers_device.go - Controller connection, commands and stream jobs
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"kerf/driver"
)

// statusTimeout bounds how long a status query waits for the report
const statusTimeout = 2 * time.Second

// DeviceHandler exposes a driver over HTTP
type DeviceHandler struct {
	drv  driver.Driver
	jobs *JobTracker
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(drv driver.Driver, jobs *JobTracker) *DeviceHandler {
	return &DeviceHandler{drv: drv, jobs: jobs}
}

// Jobs returns the handler's job tracker
func (h *DeviceHandler) Jobs() *JobTracker {
	return h.jobs
}

// SendRequest is the body of POST /api/device/send
type SendRequest struct {
	Line string `json:"line"`
}

// SendResult reports a command's acknowledgement
type SendResult struct {
	Ok    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	Alarm bool     `json:"alarm,omitempty"`
	Lines []string `json:"lines,omitempty"`
}

// JobRequest is the body of POST /api/device/jobs
type JobRequest struct {
	Gcode string            `json:"gcode"`
	Mode  driver.StreamMode `json:"mode"`
}

// ConnectionResult reports the connection state
type ConnectionResult struct {
	Connected bool `json:"connected"`
}

// HandleConnect opens the controller connection
func (h *DeviceHandler) HandleConnect(c echo.Context) error {
	if err := h.drv.Connect(c.Request().Context()); err != nil {
		return RespondWithError(c, NewDeviceError(err))
	}
	return c.JSON(http.StatusOK, ConnectionResult{Connected: true})
}

// HandleDisconnect closes the controller connection
func (h *DeviceHandler) HandleDisconnect(c echo.Context) error {
	if err := h.drv.Disconnect(); err != nil {
		return RespondWithError(c, NewDeviceError(err))
	}
	return c.JSON(http.StatusOK, ConnectionResult{Connected: false})
}

// HandleStatus queries a status report
func (h *DeviceHandler) HandleStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), statusTimeout)
	defer cancel()

	st, err := h.drv.Status(ctx)
	if err != nil {
		return RespondWithError(c, NewDeviceError(err))
	}
	return c.JSON(http.StatusOK, st)
}

// HandleSend sends one command and returns its acknowledgement. A rejected
// command is a successful request with ok=false.
func (h *DeviceHandler) HandleSend(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid request body", err))
	}
	if req.Line == "" {
		return RespondWithError(c, NewBadRequestError("line is required", nil))
	}

	ack, err := h.drv.SendLine(c.Request().Context(), req.Line)
	if err != nil {
		return RespondWithError(c, NewDeviceError(err))
	}

	res := SendResult{Lines: ack.Lines()}
	switch a := ack.(type) {
	case driver.Ok:
		res.Ok = true
	case driver.Rejected:
		res.Error = a.Message
		res.Alarm = a.Alarm
	}
	return c.JSON(http.StatusOK, res)
}

// HandleStartJob starts streaming a program in the background
func (h *DeviceHandler) HandleStartJob(c echo.Context) error {
	var req JobRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid request body", err))
	}
	if req.Gcode == "" {
		return RespondWithError(c, NewBadRequestError("gcode is required", nil))
	}

	job, err := h.jobs.Start(req.Gcode, req.Mode)
	if err != nil {
		return RespondWithError(c, NewDeviceError(err))
	}
	return c.JSON(http.StatusAccepted, job)
}

// HandleGetJob returns a job's state and progress
func (h *DeviceHandler) HandleGetJob(c echo.Context) error {
	id := c.Param("id")
	job, ok := h.jobs.Get(id)
	if !ok {
		return RespondWithError(c, NewNotFoundError("job", id))
	}
	return c.JSON(http.StatusOK, job)
}

// HandleAbort aborts the running job and soft-resets the controller
func (h *DeviceHandler) HandleAbort(c echo.Context) error {
	return h.control(c, h.drv.Abort)
}

// HandlePause holds motion
func (h *DeviceHandler) HandlePause(c echo.Context) error {
	return h.control(c, h.drv.Pause)
}

// HandleResume releases a hold
func (h *DeviceHandler) HandleResume(c echo.Context) error {
	return h.control(c, h.drv.Resume)
}

func (h *DeviceHandler) control(c echo.Context, fn func() error) error {
	if err := fn(); err != nil {
		return RespondWithError(c, NewDeviceError(err))
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
