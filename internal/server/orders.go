package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetOrder(c *gin.Context) {
	if s.deps.Orders == nil {
		s.abort(c, http.StatusNotFound, "NotFound", "orders not available")
		return
	}
	o, err := s.deps.Orders.Get(c.Request.Context(), c.Param("orderId"), callerFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleListOrders(c *gin.Context) {
	if s.deps.Orders == nil {
		s.abort(c, http.StatusNotFound, "NotFound", "orders not available")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)
	items, total, err := s.deps.Orders.List(c.Request.Context(), callerFrom(c), page, pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "pageSize": pageSize})
}
