package middleware

import (
	"github.com/gin-gonic/gin"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
)

// SubjectKey is the context key holding the request's authz.Subject.
const SubjectKey = "subject"

// SubjectLoader resolves the authorization subject of a user.
type SubjectLoader interface {
	GetSubject(userID string) (authz.Subject, error)
}

// LoadSubject runs after AuthMiddleware. It loads the user's role and unit
// once per request so handlers and services never query them again.
// Deactivated users are rejected even while their token is still valid.
func LoadSubject(loader SubjectLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(UserIDKey)
		if userID == "" {
			abortWithError(c, apperrors.ErrUnauthorized)
			return
		}

		subject, err := loader.GetSubject(userID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		subject.IP = c.ClientIP()

		c.Set(SubjectKey, subject)
		c.Next()
	}
}
