package workspace

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

const localsKey = "workspace"

// TokenLocalsKey is where the JWT middleware stores the verified token.
const TokenLocalsKey = "user"

// IdentityFromClaims extracts the identity from the JWT claims in context.
func IdentityFromClaims(c *fiber.Ctx) (directory.Identity, error) {
	token, ok := c.Locals(TokenLocalsKey).(*jwt.Token)
	if !ok {
		return directory.Identity{}, errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return directory.Identity{}, errors.New("invalid claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return directory.Identity{}, errors.New("missing sub claim")
	}
	identifier, _ := claims["identifier"].(string)
	method, _ := claims["auth_method"].(string)

	return directory.Identity{
		ID:         sub,
		Identifier: identifier,
		AuthMethod: directory.AuthMethod(method),
	}, nil
}

// Set stores ws in Fiber context locals.
func Set(c *fiber.Ctx, ws *Workspace) {
	c.Locals(localsKey, ws)
}

// From returns the workspace stored by Set, or nil.
func From(c *fiber.Ctx) *Workspace {
	ws, _ := c.Locals(localsKey).(*Workspace)
	return ws
}
