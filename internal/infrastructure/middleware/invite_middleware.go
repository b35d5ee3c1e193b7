package middleware

import (
	"strings"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	apperrors "koma/pkg/errors"

	"github.com/gin-gonic/gin"
)

const InviteKey = "invite"

// InviteMiddleware decodes the invite token from the :token path parameter or
// a Bearer header and stores it under InviteKey.
func InviteMiddleware(invites ports.InviteService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		if token == "" {
			parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = strings.TrimSpace(parts[1])
			}
		}
		if token == "" {
			c.Error(apperrors.NewUnauthorizedError("invite token required"))
			c.Abort()
			return
		}

		invite, err := invites.Decode(token)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		c.Set(InviteKey, invite)
		c.Next()
	}
}

// InviteFrom returns the invite stored by InviteMiddleware.
func InviteFrom(c *gin.Context) (domain.Invite, bool) {
	v, ok := c.Get(InviteKey)
	if !ok {
		return domain.Invite{}, false
	}
	inv, ok := v.(domain.Invite)
	return inv, ok
}
