package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leavetrack/internal/auth"
	"leavetrack/internal/broadcast"
	"leavetrack/internal/config"
	"leavetrack/internal/geofence"
	"leavetrack/internal/leave"
	"leavetrack/internal/location"
	"leavetrack/internal/notify"
	"leavetrack/internal/school"
)

// api holds the handlers' dependencies.
type api struct {
	cfg      config.App
	leaves   *leave.Service
	pipeline *location.Pipeline
	hub      *broadcast.Hub
	notes    notify.Store
	dir      school.Directory
}

func (a *api) register(r *gin.Engine) {
	r.POST("/api/auth/token", a.issueToken)

	g := r.Group("/api", auth.Bearer(a.cfg.JWTSigningKey, a.cfg.JWTIssuer))

	g.POST("/leave-requests", a.createLeave)
	g.GET("/leave-requests", a.listLeaves)
	g.GET("/leave-requests/active", auth.RequireRoles(school.RoleTeacher, school.RoleAdmin), a.listActive)
	g.GET("/leave-requests/:id", a.getLeave)
	g.PATCH("/leave-requests/:id/approve", auth.RequireRoles(school.RoleTeacher, school.RoleAdmin), a.approveLeave)
	g.PATCH("/leave-requests/:id/reject", auth.RequireRoles(school.RoleTeacher, school.RoleAdmin), a.rejectLeave)
	g.PATCH("/leave-requests/:id/complete", a.completeLeave)

	g.POST("/location-samples", a.ingestSample)
	g.GET("/location-samples", a.listSamples)

	g.GET("/notifications", a.listNotifications)

	g.GET("/schools/:id/live", auth.RequireRoles(school.RoleTeacher, school.RoleAdmin), a.liveEvents)
}

// issueToken exchanges a member id for a signed token pair. This is the dev
// bootstrap; production deployments put a real identity provider in front.
func (a *api) issueToken(c *gin.Context) {
	var req struct {
		MemberID string `json:"memberId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := a.dir.Member(c.Request.Context(), req.MemberID)
	if err != nil {
		writeError(c, err)
		return
	}

	tokens, err := auth.Issue(member.ID, member.Role, member.SchoolID, a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (a *api) createLeave(c *gin.Context) {
	var req struct {
		Reason             string     `json:"reason" binding:"required"`
		StartTime          time.Time  `json:"startTime"`
		ExpectedReturnTime *time.Time `json:"expectedReturnTime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, _ := auth.FromContext(c)
	created, err := a.leaves.Create(c.Request.Context(), claims.Subject, req.Reason, req.StartTime, req.ExpectedReturnTime)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (a *api) listLeaves(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	f := leave.Filter{
		SubjectID: c.Query("subjectId"),
		Status:    leave.Status(c.Query("status")),
	}
	// Students only see their own requests.
	if claims.Role == school.RoleStudent {
		f.SubjectID = claims.Subject
	}

	requests, err := a.leaves.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaveRequests": requests})
}

// activeLeave is one approved request plus its newest known position for the
// dashboard map.
type activeLeave struct {
	leave.Request
	SubjectName    string           `json:"subjectName,omitempty"`
	LatestLocation *location.Sample `json:"latestLocation,omitempty"`
}

func (a *api) listActive(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	requests, err := a.leaves.Active(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]activeLeave, 0, len(requests))
	for _, req := range requests {
		member, err := a.dir.Member(c.Request.Context(), req.SubjectID)
		if err != nil {
			if errors.Is(err, leave.ErrNotFound) {
				continue
			}
			writeError(c, err)
			return
		}
		// Supervisors only watch their own school.
		if member.SchoolID != claims.SchoolID {
			continue
		}
		entry := activeLeave{Request: req, SubjectName: member.FullName}
		if latest, err := a.pipeline.Latest(c.Request.Context(), req.ID); err == nil {
			entry.LatestLocation = latest
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"leaveRequests": out})
}

func (a *api) getLeave(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	req, err := a.leaves.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if claims.Role == school.RoleStudent && req.SubjectID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your leave request"})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (a *api) approveLeave(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	req, err := a.leaves.Approve(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (a *api) rejectLeave(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	req, err := a.leaves.Reject(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (a *api) completeLeave(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	req, err := a.leaves.Complete(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (a *api) ingestSample(c *gin.Context) {
	var req struct {
		LeaveRequestID string    `json:"leaveRequestId"`
		Latitude       *float64  `json:"latitude" binding:"required"`
		Longitude      *float64  `json:"longitude" binding:"required"`
		AccuracyMeters *float64  `json:"accuracyMeters"`
		CapturedAt     time.Time `json:"capturedAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Devices report their own position; the subject comes from the token.
	claims, _ := auth.FromContext(c)
	result, err := a.pipeline.Ingest(c.Request.Context(), location.IngestRequest{
		SubjectID:      claims.Subject,
		LeaveRequestID: req.LeaveRequestID,
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		AccuracyMeters: req.AccuracyMeters,
		CapturedAt:     req.CapturedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sample":         result.Sample,
		"distanceMeters": result.DistanceMeters,
		"alertFired":     result.AlertFired,
	})
}

func (a *api) listSamples(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	f := location.Filter{
		SubjectID:      c.Query("subjectId"),
		LeaveRequestID: c.Query("leaveRequestId"),
		Limit:          50,
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if claims.Role == school.RoleStudent {
		f.SubjectID = claims.Subject
	}

	samples, err := a.pipeline.History(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

func (a *api) listNotifications(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	subjectID := c.Query("subjectId")
	if claims.Role == school.RoleStudent || subjectID == "" {
		subjectID = claims.Subject
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	notes, err := a.notes.ListBySubject(c.Request.Context(), subjectID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}

// liveEvents streams a school's location and alert events over SSE. The
// subscription lives exactly as long as the connection; a dropped dashboard
// reconnects and starts from the present.
func (a *api) liveEvents(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	schoolID := c.Param("id")
	if claims.SchoolID != schoolID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your school"})
		return
	}

	sessionID := uuid.NewString()
	sub := a.hub.Subscribe(sessionID, schoolID)
	defer a.hub.Unsubscribe(sessionID, schoolID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	log.Printf("live stream opened: school=%s session=%s", schoolID, sessionID)
	defer log.Printf("live stream closed: school=%s session=%s", schoolID, sessionID)

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(ev.Kind, ev)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, leave.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, leave.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, leave.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, leave.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, leave.ErrInvalidReason), errors.Is(err, geofence.ErrInvalidCoordinate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, leave.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
