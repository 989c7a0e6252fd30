package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/compass/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/rank"
)

// RecommendHandler ranks events, factors and variables for a company and a
// set of report sections.
func RecommendHandler(c echo.Context) error {
	type errorResponse struct {
		Message string `json:"message"`
	}

	data := new(rank.Request)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Message: "Invalid request body",
		})
	}

	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	resp, err := app.Recommender.Recommend(c.Request().Context(), *data)
	if err != nil {
		if errors.Is(err, rank.ErrCompanyRequired) {
			return c.JSON(http.StatusBadRequest, errorResponse{
				Message: err.Error(),
			})
		}
		logger.Error("[Server] Recommend failed", "company", data.Company, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, resp)
}
