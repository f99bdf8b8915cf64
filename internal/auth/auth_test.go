package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iurnickita/hrbonus/internal/auth/config"
	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/store"
	"github.com/iurnickita/hrbonus/internal/store/memstore"
)

func newTestAuth(t *testing.T) (*auth, store.Store) {
	t.Helper()
	s := memstore.New()
	a, err := NewAuth(config.Config{
		JWTSecret:         "secret",
		TokenTTL:          time.Hour,
		AdminLogin:        "root",
		AdminPassword:     "rootpassword",
		AdminOrganization: "acme",
	}, s, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.EnsureAdmin(context.Background()))
	return a.(*auth), s
}

func post(h http.HandlerFunc, body string, bearer string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) TokenJSONResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp TokenJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	a, s := newTestAuth(t)

	w := post(a.Register, `{"login":"grace","password":"cobol1959","name":"Grace Hopper","organization":"acme"}`, "")
	registered := decodeToken(t, w)
	require.Equal(t, "Bearer "+registered.Token, w.Header().Get("Authorization"))
	require.NotEmpty(t, w.Result().Cookies())

	user, err := s.UserGet(context.Background(), registered.Code)
	require.NoError(t, err)
	require.Equal(t, model.RoleEmployee, user.Data.Role)

	// пароль хранится только в виде хеша
	_, hash, err := s.AuthLogin(context.Background(), "grace")
	require.NoError(t, err)
	require.NotEqual(t, "cobol1959", hash)

	loggedIn := decodeToken(t, post(a.Login, `{"login":"grace","password":"cobol1959"}`, ""))
	require.Equal(t, registered.Code, loggedIn.Code)

	require.Equal(t, http.StatusUnauthorized, post(a.Login, `{"login":"grace","password":"wrong-password"}`, "").Code)
	require.Equal(t, http.StatusUnauthorized, post(a.Login, `{"login":"nobody","password":"whatever1"}`, "").Code)
	require.Equal(t, http.StatusConflict,
		post(a.Register, `{"login":"grace","password":"cobol1959","name":"Grace","organization":"acme"}`, "").Code)
}

func TestRegisterValidation(t *testing.T) {
	a, _ := newTestAuth(t)

	for _, body := range []string{
		`not json`,
		`{"login":"ab","password":"longenough","name":"A","organization":"acme"}`,
		`{"login":"ada","password":"short","name":"A","organization":"acme"}`,
		`{"login":"ada","password":"longenough","name":"A"}`,
		`{"login":"ada","password":"longenough","name":"A","organization":"acme","role":"root"}`,
	} {
		require.Equal(t, http.StatusBadRequest, post(a.Register, body, "").Code, body)
	}
}

func TestRegisterPrivilegedRole(t *testing.T) {
	a, _ := newTestAuth(t)
	body := `{"login":"boss","password":"managerpass","name":"Boss","role":"manager","organization":"acme"}`

	require.Equal(t, http.StatusForbidden, post(a.Register, body, "").Code)

	employee := decodeToken(t, post(a.Register, `{"login":"ada","password":"longenough","name":"Ada","organization":"acme"}`, ""))
	require.Equal(t, http.StatusForbidden, post(a.Register, body, employee.Token).Code)

	admin := decodeToken(t, post(a.Login, `{"login":"root","password":"rootpassword"}`, ""))
	require.Equal(t, http.StatusForbidden,
		post(a.Register, `{"login":"other","password":"managerpass","name":"O","role":"manager","organization":"globex"}`, admin.Token).Code)
	decodeToken(t, post(a.Register, body, admin.Token))
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	a, _ := newTestAuth(t)
	require.NoError(t, a.EnsureAdmin(context.Background()))

	a.cfg.AdminPassword = ""
	require.Error(t, a.EnsureAdmin(context.Background()))

	a.cfg.AdminLogin = ""
	require.NoError(t, a.EnsureAdmin(context.Background()))
}

func TestMiddleware(t *testing.T) {
	a, _ := newTestAuth(t)
	user := decodeToken(t, post(a.Register, `{"login":"ada","password":"longenough","name":"Ada","organization":"acme"}`, ""))

	var seen string
	h := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderUserCodeKey)
	})

	// без токена
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserCodeKey, "1")
	w := httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, seen)

	// Bearer, подставленный клиентом код игнорируется
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+user.Token)
	r.Header.Set(HeaderUserCodeKey, "1")
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, user.Code, seen)

	// кука
	seen = ""
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieUserToken, Value: user.Token})
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, user.Code, seen)

	// чужая подпись
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+user.Token+"x")
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewAuthRequiresSecret(t *testing.T) {
	_, err := NewAuth(config.Config{}, memstore.New(), zaptest.NewLogger(t))
	require.Error(t, err)
}
