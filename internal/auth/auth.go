package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iurnickita/hrbonus/internal/auth/config"
	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/store"
	"github.com/iurnickita/hrbonus/internal/token"
	"github.com/iurnickita/hrbonus/internal/validation"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
	EnsureAdmin(ctx context.Context) error
}

const (
	HeaderUserCodeKey = "X-User-Code"
	CookieUserToken   = "hrbonusUserToken"
)

var (
	ErrNoToken       = errors.New("no token")
	ErrWrongPassword = errors.New("wrong login or password")
)

type auth struct {
	cfg    config.Config
	store  store.Store
	token  token.Token
	zaplog *zap.Logger
}

func NewAuth(cfg config.Config, store store.Store, zaplog *zap.Logger) (Auth, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is not set")
	}
	return &auth{
		cfg:    cfg,
		store:  store,
		token:  token.NewToken(cfg.JWTSecret, cfg.TokenTTL),
		zaplog: zaplog,
	}, nil
}

type RegisterJSONRequest struct {
	Login        string `json:"login" validate:"required,min=3,max=64"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	Name         string `json:"name" validate:"required"`
	Role         string `json:"role" validate:"omitempty,oneof=employee manager admin"`
	Organization string `json:"organization" validate:"required"`
	Manager      string `json:"manager"`
}

type LoginJSONRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenJSONResponse struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = model.RoleEmployee
	}

	// Менеджеров и администраторов заводит только администратор организации
	if req.Role != model.RoleEmployee {
		if err := a.checkAdmin(r, req.Organization); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	user := model.User{Data: model.UserData{
		Login:        req.Login,
		Name:         req.Name,
		Role:         req.Role,
		Organization: req.Organization,
		Manager:      req.Manager,
	}}
	code, err := a.register(r.Context(), user, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	a.zaplog.Info("user registered",
		zap.String("code", code),
		zap.String("role", user.Data.Role))
	a.respondToken(w, code)
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, hash, err := a.store.AuthLogin(r.Context(), req.Login)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			http.Error(w, ErrWrongPassword.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		http.Error(w, ErrWrongPassword.Error(), http.StatusUnauthorized)
		return
	}

	a.respondToken(w, user.Code)
}

func (a *auth) register(ctx context.Context, user model.User, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return a.store.AuthRegister(ctx, user, string(hash))
}

// respondToken выдает токен в куке и в теле ответа
func (a *auth) respondToken(w http.ResponseWriter, code string) {
	tokenString, err := a.token.BuildJWTString(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieUserToken,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.cfg.TokenTTL.Seconds()),
	})
	w.Header().Set("Authorization", "Bearer "+tokenString)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenJSONResponse{Code: code, Token: tokenString})
}

// checkAdmin проверяет, что запрос сделан администратором организации
func (a *auth) checkAdmin(r *http.Request, organization string) error {
	code, err := a.getUserCode(r)
	if err != nil {
		return err
	}
	caller, err := a.store.UserGet(r.Context(), code)
	if err != nil {
		return err
	}
	if caller.Data.Role != model.RoleAdmin || caller.Data.Organization != organization {
		return errors.New("admin of the organization required")
	}
	return nil
}

// EnsureAdmin заводит администратора из конфигурации, если его еще нет
func (a *auth) EnsureAdmin(ctx context.Context) error {
	if a.cfg.AdminLogin == "" {
		return nil
	}
	if a.cfg.AdminPassword == "" || a.cfg.AdminOrganization == "" {
		return errors.New("admin password and organization are required")
	}

	user := model.User{Data: model.UserData{
		Login:        a.cfg.AdminLogin,
		Name:         a.cfg.AdminLogin,
		Role:         model.RoleAdmin,
		Organization: a.cfg.AdminOrganization,
	}}
	code, err := a.register(ctx, user, a.cfg.AdminPassword)
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	a.zaplog.Info("admin created", zap.String("code", code))
	return nil
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// заголовок ставит только middleware
		r.Header.Del(HeaderUserCodeKey)

		// получение id пользователя
		userCode, err := a.getUserCode(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderUserCodeKey, userCode)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getUserCode(r *http.Request) (string, error) {
	// Bearer-токен, иначе кука
	tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || tokenString == "" {
		tokenCookie, err := r.Cookie(CookieUserToken)
		if err != nil {
			return "", ErrNoToken
		}
		tokenString = tokenCookie.Value
	}
	return a.token.GetUserCode(tokenString)
}
