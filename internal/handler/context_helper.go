package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/kovancilartr/learnapp-api/internal/middleware"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext resolves the authenticated caller or fails with Unauthorized.
func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	return models.Actor{UserID: claims.UserID, Role: claims.Role}, nil
}

// bindOptionalJSON decodes the body into dest; an empty body leaves dest untouched.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	return nil
}
