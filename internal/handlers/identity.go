package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Authenticator supplies the verified user identity for a request. Session
// verification itself lives outside this service; the gateway in front of it
// is responsible for proving who the caller is.
type Authenticator interface {
	Authenticate(r *http.Request) (uuid.UUID, error)
}

var ErrUnauthenticated = errors.New("no verified user identity")

// HeaderAuthenticator trusts the identity header injected by the gateway
// after it has verified the session.
type HeaderAuthenticator struct {
	Header string
}

func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{Header: "X-User-ID"}
}

func (a *HeaderAuthenticator) Authenticate(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(a.Header)
	if raw == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}

const contextKeyUserID = "userID"

// Identity resolves the caller's identity and stores it in the gin context.
func Identity(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(contextKeyUserID, id)
		c.Next()
	}
}

// UserID returns the identity stored by the Identity middleware.
func UserID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(contextKeyUserID)
	uid, _ := id.(uuid.UUID)
	return uid
}
