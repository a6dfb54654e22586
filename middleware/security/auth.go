package security

import (
	"net/http"
	"strings"

	"PulseIM/tools/errs"
	jwtauth "PulseIM/tools/security"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Context key the authenticated user id is stored under.
const CtxUserIDKey = "userID"

// Middleware verifies the bearer token and stores the authenticated
// user id in the request context. A "token" query parameter is
// accepted as a fallback for clients that cannot set headers.
func Middleware(opts jwtauth.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuth.WithDetail("missing token"))
			return
		}

		userID, err := jwtauth.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuth.WithDetail("invalid token"))
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID extracts the authenticated user id placed by Middleware.
func UserID(c *gin.Context) (primitive.ObjectID, bool) {
	raw, ok := c.Get(CtxUserIDKey)
	if !ok {
		return primitive.NilObjectID, false
	}
	s, ok := raw.(string)
	if !ok {
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}
