package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mw "PulseIM/middleware/security"
	"PulseIM/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeCloser struct {
	closed []string
}

func (f *fakeCloser) CloseUser(userID string) int {
	f.closed = append(f.closed, userID)
	return 2
}

type authFixture struct {
	router *gin.Engine
	closer *fakeCloser
	opts   security.Options
	userID string
	token  string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts := security.DefaultOptions([]byte("test-secret"))
	closer := &fakeCloser{}
	h := NewHandler(nil, opts, closer)

	r := gin.New()
	h.Register(r, mw.Middleware(opts))

	userID := primitive.NewObjectID().Hex()
	token, _, err := security.Generate(opts, userID)
	require.NoError(t, err)
	return &authFixture{router: r, closer: closer, opts: opts, userID: userID, token: token}
}

func TestLogoutClosesEveryConnection(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"closed":2}`, w.Body.String())
	require.Len(t, f.closer.closed, 1)
	assert.Equal(t, f.userID, f.closer.closed[0])
}

func TestLogoutRequiresToken(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.closer.closed)
}

func TestRefreshIssuesVerifiableToken(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	sub, err := security.Verify(f.opts, body.Token)
	require.NoError(t, err)
	assert.Equal(t, f.userID, sub)
}
