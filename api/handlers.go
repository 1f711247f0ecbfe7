package api

import (
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/sandbox"
)

// RunCodeRequest is the body of POST /run_code
type RunCodeRequest struct {
	Base64TarGz string  `json:"base_64_tar_gz"`
	MaxTimeS    float64 `json:"max_time_s"`
}

// RunCodeResponse carries base64 encoded output. ExitCode is null when the
// engine could not report one.
type RunCodeResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code"`
}

func (*Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) bodyLimit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes())
	c.Next()
}

func (s *Server) runCode(c *gin.Context) {
	log := s.logger.With(zap.String("request_id", c.GetString(requestIDContextKey)))

	var req RunCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("malformed request body", zap.Error(err))
		abort(c, ErrBadRequest)
		return
	}

	archive, err := base64.StdEncoding.DecodeString(req.Base64TarGz)
	if err != nil {
		log.Info("invalid base64, refusing request", zap.Error(err))
		abort(c, ErrInvalidBase64)
		return
	}

	if req.MaxTimeS <= 0 || math.IsInf(req.MaxTimeS, 0) {
		log.Info("invalid time budget", zap.Float64("max_time_s", req.MaxTimeS))
		abort(c, ErrBadRequest)
		return
	}

	result, err := s.executor.Execute(c.Request.Context(), sandbox.ExecuteRequest{
		Archive:   archive,
		TimeLimit: time.Duration(req.MaxTimeS * float64(time.Second)),
	})
	switch {
	case err == nil:
	case errors.Is(err, sandbox.ErrInvalidRequest):
		log.Info("request rejected by executor", zap.Error(err))
		abort(c, ErrBadRequest)
		return
	default:
		log.Error("execution failed", zap.Error(err))
		abort(c, ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, RunCodeResponse{
		Stdout:   base64.StdEncoding.EncodeToString(result.Stdout),
		Stderr:   base64.StdEncoding.EncodeToString(result.Stderr),
		ExitCode: result.ExitCode,
	})
}
