package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/middleware"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/model"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/service"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/utils"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const noMessageProvided = "No message provided"

type ChatHandler struct {
	chatService *service.ChatService
	framing     string
}

func NewChatHandler(chatService *service.ChatService, framing string) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		framing:     framing,
	}
}

// Chat 单次生成，message 为唯一输入
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": noMessageProvided})
		return
	}

	text, err := h.chatService.Generate(c.Request.Context(), req.Message)
	if err != nil {
		logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Error("chat generation failed")
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.ChatResponse{Message: text})
}

// Stream 以 history 为上下文流式生成。请求在写出响应头之前校验，
// 响应头写出之后的错误以带内错误片段结束响应，状态码保持 200。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req model.StreamRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Chat == "" {
		c.Data(http.StatusBadRequest, "application/json; charset=utf-8", []byte(errorFragment("Empty message")))
		return
	}

	fields := logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"history":    len(req.History),
	}

	sr, err := h.chatService.StreamChat(c.Request.Context(), model.MessagesFromHistory(req.History), req.Chat)
	if err != nil {
		logger.WithError(err).WithFields(fields).Error("failed to open model stream")
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: err.Error()})
		return
	}
	defer sr.Close()

	sw := utils.NewStreamWriter(c.Writer, h.framing)
	c.Status(http.StatusOK)

	var full strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.UpstreamErrorsTotal.WithLabelValues("stream_recv").Inc()
			logger.WithError(err).WithFields(fields).WithField("partial", full.String()).Error("error during streaming")
			if wErr := sw.WriteError(errorFragment(err.Error())); wErr != nil {
				logger.Warnf("failed to write stream error: %v", wErr)
			}
			return
		}

		if err := sw.WriteFragment(chunk); err != nil {
			logger.WithFields(fields).Warnf("client went away: %v", err)
			return
		}
		full.WriteString(chunk)
	}

	if err := sw.Close(); err != nil {
		logger.Warnf("failed to close stream: %v", err)
	}
	logger.WithFields(fields).Infof("Completed streaming response: %s", full.String())
}

// ToggleStream 只回显客户端的开关状态，服务端不保存
func (h *ChatHandler) ToggleStream(c *gin.Context) {
	var req model.ToggleStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Errorf("toggle stream: %v", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	logger.Infof("Streaming toggled: %v", req.Streaming)
	c.JSON(http.StatusOK, model.ToggleStreamResponse{Streaming: req.Streaming})
}

// bindJSON 空请求体视为缺少字段，交给调用方按空消息处理
func bindJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
