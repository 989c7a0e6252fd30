package middleware

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/compass/backend/internal/queue"
	"github.com/OFFIS-RIT/compass/backend/pkg/rank"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

type App struct {
	Recommender *rank.Recommender
	Queue       queue.Publisher
	// Keyfunc verifies bearer JWTs. Nil disables JWT auth.
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
