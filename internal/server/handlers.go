package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service"
	"github.com/ifuryst/cadence/pkg/util"
)

func (s *Server) handleCreateJob(c *gin.Context) {
	var spec service.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.respondError(c, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	job, err := s.Jobs.Create(c.Request.Context(), spec)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	loc, err := util.LoadLocation(c.Query("tz"))
	if err != nil {
		s.respondError(c, &models.ValidationError{Field: "tz", Reason: err.Error()})
		return
	}
	start, err := util.ParseRangeBound(c.Query("start"), loc, false)
	if err != nil {
		s.respondError(c, &models.ValidationError{Field: "start", Reason: err.Error()})
		return
	}
	end, err := util.ParseRangeBound(c.Query("end"), loc, true)
	if err != nil {
		s.respondError(c, &models.ValidationError{Field: "end", Reason: err.Error()})
		return
	}

	jobs, err := s.Jobs.QueryByDateRange(c.Request.Context(), start, end)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": nonNil(jobs), "count": len(jobs)})
}

func (s *Server) handleDueJobs(c *gin.Context) {
	before := time.Now().UTC()
	if raw := c.Query("before"); raw != "" {
		t, err := util.ParseInstant(raw)
		if err != nil {
			s.respondError(c, &models.ValidationError{Field: "before", Reason: err.Error()})
			return
		}
		before = t
	}

	jobs, err := s.Jobs.QueryDueBefore(c.Request.Context(), before)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": nonNil(jobs), "count": len(jobs)})
}

func (s *Server) handleUpdateJob(c *gin.Context) {
	var patch service.JobPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.respondError(c, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	job, err := s.Jobs.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	job, err := s.Jobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleRetryJob(c *gin.Context) {
	job, err := s.Jobs.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	purge, err := strconv.ParseBool(c.DefaultQuery("purge", "false"))
	if err != nil {
		s.respondError(c, &models.ValidationError{Field: "purge", Reason: "must be a boolean"})
		return
	}

	if err := s.Jobs.Delete(c.Request.Context(), c.Param("id"), purge); err != nil {
		s.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAttempts(c *gin.Context) {
	attempts, err := s.Jobs.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	if attempts == nil {
		attempts = []*models.DispatchAttempt{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (s *Server) handleCalendar(c *gin.Context) {
	view, err := s.Calendar.Build(c.Request.Context(), service.CalendarQuery{
		Start:      c.Query("start"),
		End:        c.Query("end"),
		Timezone:   c.Query("tz"),
		CampaignID: c.Query("campaign"),
		Platform:   c.Query("platform"),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timezone": view.Timezone,
		"start":    view.Start,
		"end":      view.End,
		"days":     view.Days,
		"skipped":  len(view.Skipped),
	})
}

func (s *Server) handleLiveMetrics(c *gin.Context) {
	if s.Poller == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "live metrics disabled"})
		return
	}

	snapshot, err := s.Poller.Current(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "live metrics not collected yet"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func nonNil(jobs []*models.PublishingJob) []*models.PublishingJob {
	if jobs == nil {
		return []*models.PublishingJob{}
	}
	return jobs
}
