package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/compass/backend/internal/queue"
	"github.com/OFFIS-RIT/compass/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
)

type jobResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func submitJob(c echo.Context, msg queue.JobMsg) error {
	app := c.(*middleware.AppContext).App
	id, err := queue.Submit(c.Request().Context(), app.Queue, msg)
	if err != nil {
		logger.Error("[Server] Failed to submit job", "kind", msg.Kind, "err", err)
		return c.JSON(http.StatusInternalServerError, jobResponse{
			Message: "Internal server error",
		})
	}
	logger.Info("[Server] Job submitted", "kind", msg.Kind, "job_id", id)
	return c.JSON(http.StatusAccepted, jobResponse{
		Message: "Job accepted",
		JobID:   id,
	})
}

// SubmitIngestJobHandler queues the ingest of a report bundle stored in S3.
// A bundle_key ending in "/" ingests every bundle below that prefix.
func SubmitIngestJobHandler(c echo.Context) error {
	type ingestBody struct {
		Agency    string `json:"agency" validate:"required"`
		BundleKey string `json:"bundle_key" validate:"required"`
		Replace   bool   `json:"replace"`
		// DeleteAfter removes the bundle objects after a successful ingest.
		DeleteAfter bool `json:"delete_after"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}

	return submitJob(c, queue.JobMsg{
		Kind:        queue.JobIngest,
		Agency:      data.Agency,
		BundleKey:   data.BundleKey,
		Replace:     data.Replace,
		DeleteAfter: data.DeleteAfter,
	})
}

// SubmitExtractJobHandler queues extraction over the named sections. An
// empty list selects every section.
func SubmitExtractJobHandler(c echo.Context) error {
	type extractBody struct {
		Sections []string `json:"sections"`
		Source   string   `json:"source" validate:"omitempty,oneof=model rules"`
	}

	data := new(extractBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}

	return submitJob(c, queue.JobMsg{
		Kind:     queue.JobExtract,
		Sections: data.Sections,
		Source:   data.Source,
	})
}

func SubmitRelateJobHandler(c echo.Context) error {
	type relateBody struct {
		Sections []string `json:"sections"`
	}

	data := new(relateBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}

	return submitJob(c, queue.JobMsg{
		Kind:     queue.JobRelate,
		Sections: data.Sections,
	})
}

func SubmitRepairJobHandler(c echo.Context) error {
	return submitJob(c, queue.JobMsg{Kind: queue.JobRepair})
}
