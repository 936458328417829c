package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cursoshq/cursos-api/internal/middleware"
	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
	"github.com/cursoshq/cursos-api/pkg/response"
)

// requireClaims pulls the authenticated claims or writes a 401 and reports
// failure.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, ""))
		return nil, false
	}
	return claims, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryBool(c *gin.Context, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}
