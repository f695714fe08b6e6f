package server

import (
	"github.com/labstack/echo/v4"
)

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// NotFoundResponse is returned for unknown job ids.
type NotFoundResponse struct {
	Status string `json:"status"`
}

// Accepted writes a successful upload response carrying jobID.
func Accepted(c echo.Context, status int, jobID string) error {
	return c.JSON(status, UploadResponse{
		Success: true,
		JobID:   jobID,
	})
}

// Error writes a failed upload response with message.
func Error(c echo.Context, status int, message string) error {
	return c.JSON(status, UploadResponse{
		Success: false,
		Message: message,
	})
}
