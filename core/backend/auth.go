package backend

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/access"
	"github.com/relabs-tech/popstats/core/accounts"
	"github.com/relabs-tech/popstats/core/logger"
)

// maxBodySize limits request bodies of the auth routes
const maxBodySize = 1 << 20

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type userWithToken struct {
	User  accounts.Profile `json:"user"`
	Token string           `json:"token"`
}

type userOnly struct {
	User accounts.Profile `json:"user"`
}

func (b *Backend) handleAuth(router *mux.Router) {
	logger.Default().Debugln("auth")
	logger.Default().Debugln("  handle auth routes: /api/auth/register POST")
	logger.Default().Debugln("  handle auth routes: /api/auth/login POST")
	logger.Default().Debugln("  handle auth routes: /api/auth/me GET")
	logger.Default().Debugln("  handle auth routes: /api/auth/update-profile PUT")
	logger.Default().Debugln("  handle auth routes: /api/auth/change-password PUT")
	logger.Default().Debugln("  handle auth routes: /api/auth/logout POST")

	router.HandleFunc("/auth/register", b.register).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/auth/login", b.login).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/auth/me", b.withUser(b.me)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/auth/update-profile", b.withUser(b.updateProfile)).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/auth/change-password", b.withUser(b.changePassword)).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/auth/logout", b.withUser(b.logout)).Methods(http.MethodOptions, http.MethodPost)
}

// withAuthorization rejects requests without authorization
func (b *Backend) withAuthorization(h func(w http.ResponseWriter, r *http.Request, auth *access.Authorization)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if auth == nil {
			respondFail(w, r, http.StatusUnauthorized, "Not authorized. Please log in to access this resource.")
			return
		}
		h(w, r, auth)
	}
}

// withUser loads the user of the authorization on every request. Tokens of
// deleted or deactivated users are rejected with 401.
func (b *Backend) withUser(h func(w http.ResponseWriter, r *http.Request, user *accounts.User)) http.HandlerFunc {
	return b.withAuthorization(func(w http.ResponseWriter, r *http.Request, auth *access.Authorization) {
		user, err := b.users.ByID(r.Context(), auth.UserID)
		if errors.Is(err, accounts.ErrNotFound) {
			respondFail(w, r, http.StatusUnauthorized, "User belonging to this token no longer exists.")
			return
		}
		if err != nil {
			respondInternal(w, r, "Error 5709", err)
			return
		}
		if !user.IsActive {
			respondFail(w, r, http.StatusUnauthorized, "User account has been deactivated.")
			return
		}
		h(w, r, user)
	})
}

// decodeBody validates the request body against schemaID and decodes it into v
func (b *Backend) decodeBody(r *http.Request, schemaID string, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if err := b.validator.ValidateBytes(body, schemaID); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (b *Backend) setTokenCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *Backend) notifyUser(r *http.Request, operation core.Operation, user *accounts.User) {
	payload, _ := json.Marshal(user.Profile())
	if err := b.notifier.Notify(r.Context(), "user", operation, payload); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4802: notify user", operation)
	}
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	var req registerRequest
	if err := b.decodeBody(r, schemaRegister, &req); err != nil {
		respondError(w, r, "Error 4701", err)
		return
	}
	if err := accounts.ValidatePassword(req.Password); err != nil {
		respondFail(w, r, http.StatusBadRequest, "Validation failed: password: "+err.Error())
		return
	}
	hash, err := accounts.HashPassword(req.Password)
	if err != nil {
		respondInternal(w, r, "Error 5702", err)
		return
	}
	user := &accounts.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
	}
	err = b.users.Create(r.Context(), user)
	if errors.Is(err, accounts.ErrEmailTaken) {
		respondFail(w, r, http.StatusBadRequest, "User with this email already exists")
		return
	}
	if err != nil {
		respondInternal(w, r, "Error 5703", err)
		return
	}

	token, expires, err := b.issuer.Issue(user.ID, user.Email, string(user.Role))
	if err != nil {
		respondInternal(w, r, "Error 5704", err)
		return
	}
	b.setTokenCookie(w, token, expires)
	b.notifyUser(r, core.OperationCreate, user)
	rlog.Infoln("new user registered:", user.Email)
	respond(w, r, http.StatusCreated, "User registered successfully", userWithToken{User: user.Profile(), Token: token})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	var req loginRequest
	if err := b.decodeBody(r, schemaLogin, &req); err != nil {
		respondError(w, r, "Error 4705", err)
		return
	}
	user, err := b.users.ByEmail(r.Context(), req.Email)
	if errors.Is(err, accounts.ErrNotFound) {
		respondFail(w, r, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		respondInternal(w, r, "Error 5706", err)
		return
	}
	if !user.IsActive {
		respondFail(w, r, http.StatusUnauthorized, "Your account has been deactivated. Please contact support.")
		return
	}
	if !user.CheckPassword(req.Password) {
		rlog.Infoln("failed login for", user.Email)
		respondFail(w, r, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	now := b.now().UTC()
	if err := b.users.TouchLastLogin(r.Context(), user.ID, now); err != nil {
		respondInternal(w, r, "Error 5707", err)
		return
	}
	user.LastLogin = &now

	token, expires, err := b.issuer.Issue(user.ID, user.Email, string(user.Role))
	if err != nil {
		respondInternal(w, r, "Error 5708", err)
		return
	}
	b.setTokenCookie(w, token, expires)
	rlog.Infoln("user logged in:", user.Email)
	respond(w, r, http.StatusOK, "Login successful", userWithToken{User: user.Profile(), Token: token})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request, user *accounts.User) {
	respond(w, r, http.StatusOK, "", userOnly{User: user.Profile()})
}

func (b *Backend) updateProfile(w http.ResponseWriter, r *http.Request, user *accounts.User) {
	var req updateProfileRequest
	if err := b.decodeBody(r, schemaUpdateProfile, &req); err != nil {
		respondError(w, r, "Error 4710", err)
		return
	}
	if req.Email != nil {
		user.Email = accounts.NormalizeEmail(*req.Email)
	}
	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	err := b.users.UpdateProfile(r.Context(), user)
	if errors.Is(err, accounts.ErrEmailTaken) {
		respondFail(w, r, http.StatusBadRequest, "Email is already in use")
		return
	}
	if err != nil {
		respondInternal(w, r, "Error 5712", err)
		return
	}
	b.notifyUser(r, core.OperationUpdate, user)
	logger.FromContext(r.Context()).Infoln("user profile updated:", user.Email)
	respond(w, r, http.StatusOK, "Profile updated successfully", userOnly{User: user.Profile()})
}

func (b *Backend) changePassword(w http.ResponseWriter, r *http.Request, user *accounts.User) {
	var req changePasswordRequest
	if err := b.decodeBody(r, schemaChangePassword, &req); err != nil {
		respondError(w, r, "Error 4713", err)
		return
	}
	if err := accounts.ValidatePassword(req.NewPassword); err != nil {
		respondFail(w, r, http.StatusBadRequest, "Validation failed: newPassword: "+err.Error())
		return
	}
	if !user.CheckPassword(req.CurrentPassword) {
		respondFail(w, r, http.StatusUnauthorized, "Current password is incorrect")
		return
	}
	hash, err := accounts.HashPassword(req.NewPassword)
	if err != nil {
		respondInternal(w, r, "Error 5715", err)
		return
	}
	if err := b.users.SetPassword(r.Context(), user.ID, hash); err != nil {
		respondInternal(w, r, "Error 5716", err)
		return
	}

	b.revokeRequestToken(r)
	token, expires, err := b.issuer.Issue(user.ID, user.Email, string(user.Role))
	if err != nil {
		respondInternal(w, r, "Error 5717", err)
		return
	}
	b.setTokenCookie(w, token, expires)
	logger.FromContext(r.Context()).Infoln("password changed for user:", user.Email)
	respond(w, r, http.StatusOK, "Password changed successfully", map[string]string{"token": token})
}

// revokeRequestToken revokes the token the request was authorized with
func (b *Backend) revokeRequestToken(r *http.Request) {
	token := access.TokenFromRequest(r, b.cookieName)
	if token == "" {
		return
	}
	claims, err := b.issuer.Parse(token)
	if err != nil {
		return
	}
	b.tokens.Revoke(token, claims.ExpiresAt.Time)
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request, user *accounts.User) {
	b.revokeRequestToken(r)
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	logger.FromContext(r.Context()).Infoln("user logged out:", user.Email)
	respond(w, r, http.StatusOK, "Logged out successfully", nil)
}
