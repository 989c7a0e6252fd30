package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// GetEventTypesHandler lists the closed event type vocabulary.
func GetEventTypesHandler(c echo.Context) error {
	type eventTypeResponse struct {
		Name       string `json:"name"`
		Definition string `json:"definition"`
	}

	types := common.EventTypes()
	out := make([]eventTypeResponse, 0, len(types))
	for _, t := range types {
		out = append(out, eventTypeResponse{Name: string(t), Definition: t.Definition()})
	}
	return c.JSON(http.StatusOK, out)
}
