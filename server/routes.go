package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aadithya-v/geotrack"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all API routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.POST("/tracking/start", s.handleStart)
	api.POST("/tracking/stop", s.handleStop)
	api.GET("/tracking/status", s.handleStatus)

	api.POST("/fixes", s.handleFix)

	api.GET("/sessions", s.handleSessionList)
	api.GET("/sessions/:id", s.handleSessionDetail)
	api.GET("/sessions/:id/points", s.handleSessionPoints)
	api.DELETE("/sessions/:id", s.handleSessionDelete)

	api.GET("/events", s.handleEvents)
}

// sessionView is a session summary with display strings.
type sessionView struct {
	geotrack.Summary
	StartText    string `json:"start_text"`
	EndText      string `json:"end_text,omitempty"`
	DistanceText string `json:"distance_text"`
	DurationText string `json:"duration_text"`
}

func newSessionView(summary geotrack.Summary) sessionView {
	v := sessionView{
		Summary:      summary,
		StartText:    geotrack.FormatDateTime(summary.StartTime),
		DistanceText: geotrack.FormatDistance(summary.Distance),
		DurationText: geotrack.FormatDuration(summary.Duration),
	}
	if summary.EndTime != nil {
		v.EndText = geotrack.FormatDateTime(*summary.EndTime)
	}
	return v
}

type statusResponse struct {
	geotrack.Status
	Device *DeviceInfo `json:"device,omitempty"`
}

type fixRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (s *Server) handleStart(c *gin.Context) {
	// Lifecycle writes must not be abandoned halfway when the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())

	id, created, err := s.tracker.StartSession(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"session_id": id})
}

func (s *Server) handleStop(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())

	id := s.tracker.ActiveSessionID()
	if err := s.tracker.Stop(ctx); err != nil {
		writeError(c, err)
		return
	}
	if id == 0 {
		c.JSON(http.StatusOK, gin.H{"stopped": false})
		return
	}

	summary, err := s.tracker.Summary(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true, "session": newSessionView(summary)})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Status: s.tracker.Status(),
		Device: s.lastDevice(),
	})
}

func (s *Server) handleFix(c *gin.Context) {
	if s.push == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "fix ingestion is not enabled"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req fixRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fix: " + err.Error()})
			return
		}
	}

	id := s.tracker.ActiveSessionID()
	if id == 0 {
		writeError(c, geotrack.ErrNotActive)
		return
	}

	device := extractDeviceInfo(c.Request, time.Now())

	var fix geotrack.Fix
	switch {
	case req.Lat != nil && req.Lng != nil:
		fix = geotrack.Fix{Lat: *req.Lat, Lng: *req.Lng}
	case req.Lat == nil && req.Lng == nil:
		fix, err = s.locate(device.IP)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must be given together"})
		return
	}

	if fix.Lat < -90 || fix.Lat > 90 || fix.Lng < -180 || fix.Lng > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("coordinates out of range: %v, %v", fix.Lat, fix.Lng)})
		return
	}

	if err := s.push.Push(c.Request.Context(), fix); err != nil {
		writeError(c, err)
		return
	}
	s.recordDevice(device)

	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "lat": fix.Lat, "lng": fix.Lng})
}

// locate resolves a client address to a coarse fix.
func (s *Server) locate(ip string) (geotrack.Fix, error) {
	if s.geoip == nil {
		return geotrack.Fix{}, errors.New("fix has no coordinates and no GeoIP database is configured")
	}
	if isPrivateIP(ip) {
		return geotrack.Fix{}, fmt.Errorf("cannot locate private address %s", ip)
	}
	return s.geoip.Lookup(ip)
}

func (s *Server) handleSessionList(c *gin.Context) {
	ctx := c.Request.Context()

	sessions, err := s.tracker.Sessions(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		summary, err := s.tracker.Summary(ctx, session.ID)
		if errors.Is(err, geotrack.ErrNotFound) {
			// Deleted since the list was read.
			continue
		}
		if err != nil {
			writeError(c, err)
			return
		}
		views = append(views, newSessionView(summary))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (s *Server) handleSessionDetail(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	summary, err := s.tracker.Summary(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(summary))
}

func (s *Server) handleSessionPoints(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	points, err := s.tracker.Points(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "points": points})
}

func (s *Server) handleSessionDelete(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := s.tracker.DeleteSession(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id: " + c.Param("id")})
		return 0, false
	}
	return id, true
}

// writeError maps tracker errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, geotrack.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, geotrack.ErrPrecondition):
		code = http.StatusPreconditionFailed
	case errors.Is(err, geotrack.ErrProviderLost), errors.Is(err, geotrack.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, geotrack.ErrSessionActive), errors.Is(err, geotrack.ErrNotActive):
		code = http.StatusConflict
	case errors.Is(err, geotrack.ErrInvalidRange):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
