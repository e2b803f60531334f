package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ActorKey is the context key for the acting field agent.
	ActorKey = "actor"
	// ActorUserHeader carries the agent's display name or email.
	ActorUserHeader = "X-Actor-User"
	// ActorUIDHeader carries the agent's stable user id.
	ActorUIDHeader = "X-Actor-UID"
)

// Actor is the field agent a request is made on behalf of.
type Actor struct {
	User string
	UID  string
}

// IsZero reports whether no actor headers were sent.
func (a Actor) IsZero() bool {
	return a.User == "" && a.UID == ""
}

// Identity records the acting agent from the request headers. The UI shell
// sits behind the device login, so the headers are trusted as sent.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ActorKey, Actor{
			User: strings.TrimSpace(c.GetHeader(ActorUserHeader)),
			UID:  strings.TrimSpace(c.GetHeader(ActorUIDHeader)),
		})
		c.Next()
	}
}

// GetActor retrieves the actor from the Gin context.
func GetActor(c *gin.Context) Actor {
	if v, ok := c.Get(ActorKey); ok {
		if a, ok := v.(Actor); ok {
			return a
		}
	}
	return Actor{}
}
