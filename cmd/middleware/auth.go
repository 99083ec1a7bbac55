package middleware

import (
	"strings"

	"github.com/wb-go/wbf/ginext"

	"ticketing/internal/dto"
	"ticketing/internal/model"
)

const actorKey = "actor"

type TokenParser interface {
	Parse(raw string) (model.Actor, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller for ActorFrom.
func RequireAuth(tokens TokenParser) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			dto.UnauthorizedError(c, "Missing bearer token")
			return
		}

		actor, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			dto.UnauthorizedError(c, "Invalid or expired token")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func RequireRole(roles ...model.Role) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			dto.UnauthorizedError(c, "Missing bearer token")
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		dto.ForbiddenError(c)
	}
}

func ActorFrom(c *ginext.Context) (model.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}
