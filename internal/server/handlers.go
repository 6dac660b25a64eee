package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/phonepilot/phonepilot/internal/agent"
	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/model"
)

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "phonepilot",
		"status":  "running",
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) listDevices(c *gin.Context) {
	devices := s.devices.ListDevices(c.Request.Context())
	if devices == nil {
		devices = []device.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

type startTaskRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Task     string `json:"task" binding:"required"`
	MaxSteps int    `json:"max_steps"`
	Language string `json:"language"`
}

func (s *Server) startTask(c *gin.Context) {
	var req startTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task must not be empty"})
		return
	}
	if req.MaxSteps < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_steps must be positive"})
		return
	}
	switch model.Language(req.Language) {
	case "", model.LangEN, model.LangCN:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "language must be en or cn"})
		return
	}

	session, err := s.coordinator.Start(c.Request.Context(), req.DeviceID, req.Task, agent.TaskOptions{
		MaxSteps: req.MaxSteps,
		Language: model.Language(req.Language),
	})
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrDeviceBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, device.ErrUnavailable):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, session.Snapshot())
}

func (s *Server) listTasks(c *gin.Context) {
	views := s.coordinator.Sessions()
	if views == nil {
		views = []agent.View{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

func (s *Server) taskStatus(c *gin.Context) {
	view, err := s.coordinator.Status(c.Param("device"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) cancelTask(c *gin.Context) {
	err := s.coordinator.Cancel(c.Request.Context(), c.Param("device"))
	if err != nil {
		if errors.Is(err, agent.ErrNoTask) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
