// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package target is a small in-memory task API used as a benchmark target.
//
// Routes:
//
//	GET    /healthz
//	GET    /api/v1/tasks
//	POST   /api/v1/tasks
//	GET    /api/v1/tasks/:id
//	DELETE /api/v1/tasks/:id
//	GET    /metrics
package target

import (
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Task is a stored task.
type Task struct {
	ID       int       `json:"id"`
	Name     string    `json:"name" binding:"required"`
	Priority int       `json:"priority" binding:"min=0,max=10"`
	Created  time.Time `json:"created"`
}

// Options configures the target.
type Options struct {
	// Latency is added to every API request.
	Latency time.Duration

	// Seed is the number of tasks created at startup.
	Seed int
}

type store struct {
	mu     sync.RWMutex
	tasks  map[int]Task
	nextID int
}

func (s *store) add(t Task) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	t.Created = time.Now().UTC()
	s.tasks[t.ID] = t
	return t
}

func (s *store) list() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Task) int { return a.ID - b.ID })
	return out
}

// New builds the gin engine.
func New(opts Options) *gin.Engine {
	st := &store{tasks: make(map[int]Task)}
	for i := 0; i < opts.Seed; i++ {
		st.add(Task{Name: "seed-" + strconv.Itoa(i+1), Priority: i % 10})
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("bench-target"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if opts.Latency > 0 {
		api.Use(func(c *gin.Context) {
			time.Sleep(opts.Latency)
			c.Next()
		})
	}

	api.GET("/tasks", func(c *gin.Context) {
		c.JSON(http.StatusOK, st.list())
	})

	api.POST("/tasks", func(c *gin.Context) {
		var t Task
		if err := c.ShouldBindJSON(&t); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, st.add(t))
	})

	api.GET("/tasks/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		st.mu.RLock()
		t, ok := st.tasks[id]
		st.mu.RUnlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, t)
	})

	api.DELETE("/tasks/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		st.mu.Lock()
		_, ok := st.tasks[id]
		delete(st.tasks, id)
		st.mu.Unlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return router
}
