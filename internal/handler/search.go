package handler

import (
	"net/http"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/middleware"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/model"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/service"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SearchHandler struct {
	newAgent service.SearchAgentFactory
}

func NewSearchHandler(factory service.SearchAgentFactory) *SearchHandler {
	return &SearchHandler{newAgent: factory}
}

// Search 每个请求构建一个新的检索代理并同步执行
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": noMessageProvided})
		return
	}

	entry := logger.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"query":      req.Message,
	})

	agent, err := h.newAgent(c.Request.Context())
	if err != nil {
		entry.WithError(err).Error("failed to build search agent")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	answer, err := agent.Run(c.Request.Context(), req.Message)
	if err != nil {
		entry.WithError(err).Error("search agent failed")
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: err.Error()})
		return
	}

	entry.Info("search completed")
	c.JSON(http.StatusOK, model.SearchResponse{Message: answer})
}
