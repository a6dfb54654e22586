package user

import (
	"net/http"

	mw "PulseIM/middleware/security"
	"PulseIM/module/user/model"
	"PulseIM/module/user/service"
	"PulseIM/tools/errs"
	"PulseIM/tools/security"

	"github.com/gin-gonic/gin"
)

// SessionCloser force-terminates a user's live connections; logout
// wires it to the gateway connection manager.
type SessionCloser interface {
	CloseUser(userID string) int
}

// Handler exposes registration, login, logout and directory lookups
// over REST.
type Handler struct {
	users *service.UserStore
	jwt   security.Options
	conns SessionCloser
}

func NewHandler(users *service.UserStore, jwt security.Options, conns SessionCloser) *Handler {
	return &Handler{users: users, jwt: jwt, conns: conns}
}

// Register wires the public auth routes and the authenticated user
// routes onto the router.
func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	r.POST("/api/auth/register", h.register)
	r.POST("/api/auth/login", h.login)

	a := r.Group("/api/auth", auth)
	a.POST("/logout", h.logout)
	a.POST("/refresh", h.refresh)

	g := r.Group("/api/users", auth)
	g.GET("/me", h.me)
	g.GET("", h.list)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  publicUser `json:"user"`
	Token string     `json:"token"`
}

type publicUser struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toPublic(u *model.User) publicUser {
	return publicUser{ID: u.ID.Hex(), Name: u.Name, Email: u.Email}
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, errs.ErrValidation.WithDetail("malformed body"))
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		abortWith(c, err)
		return
	}
	token, _, err := security.Generate(h.jwt, u.ID.Hex())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse{User: toPublic(u), Token: token})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, errs.ErrValidation.WithDetail("malformed body"))
		return
	}
	u, token, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{User: toPublic(u), Token: token})
}

// logout force-terminates the caller's live connections; every read
// loop exiting performs its own room/presence teardown.
func (h *Handler) logout(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	closed := 0
	if h.conns != nil {
		closed = h.conns.CloseUser(userID.Hex())
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

func (h *Handler) refresh(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	token, expireAt, err := security.Generate(h.jwt, userID.Hex())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expireAt": expireAt})
}

func (h *Handler) me(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	u, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		abortWith(c, errs.ErrAuth.WithDetail("unknown user"))
		return
	}
	c.JSON(http.StatusOK, toPublic(u))
}

func (h *Handler) list(c *gin.Context) {
	users, err := h.users.FindActive(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	out := make([]publicUser, 0, len(users))
	for i := range users {
		out = append(out, toPublic(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}
