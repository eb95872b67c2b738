package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/api/middleware"
	"maxyourpoints/internal/user"
)

// GET /api/users
func (s *Server) handleListUsers(c *gin.Context) {
	users, degraded, err := s.users.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"users": users}
	if degraded {
		body["degraded"] = true
		c.Header("X-Data-Source", "fallback")
	}
	c.JSON(http.StatusOK, body)
}

// GET /api/users/:id
func (s *Server) handleGetUser(c *gin.Context) {
	u, degraded, err := s.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	markDegraded(c, degraded)
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// POST /api/users
func (s *Server) handleCreateUser(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	var req user.CreateInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	u, err := s.users.Create(c.Request.Context(), req, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"user":    u,
	})
}

// PUT /api/users/:id
func (s *Server) handleUpdateUser(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	var req user.UpdateInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	u, err := s.users.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "User updated successfully",
		"user":    u,
	})
}

// DELETE /api/users/:id
func (s *Server) handleDeleteUser(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	id := c.Param("id")
	if err := s.users.Delete(c.Request.Context(), id, claims); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "User deleted successfully",
		"deletedId": id,
	})
}
