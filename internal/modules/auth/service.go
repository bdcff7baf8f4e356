package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/session"
	"github.com/Guillaume29200/esport-cms/internal/token"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionRevoked     = errors.New("session revoked")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Policy holds the registration rules taken from the module settings.
type Policy struct {
	Admins            []string
	AllowRegistration bool
	MinPasswordLength int
	BcryptCost        int
}

// Service implements accounts and logins.
type Service struct {
	users    UserStore
	sessions session.Store
	tokens   *token.Issuer
	hooks    hook.Dispatcher
	policy   Policy
	log      *logging.Logger
}

func NewService(users UserStore, sessions session.Store, tokens *token.Issuer, hooks hook.Dispatcher, policy Policy, log *logging.Logger) *Service {
	if policy.MinPasswordLength <= 0 {
		policy.MinPasswordLength = 8
	}
	if policy.BcryptCost < bcrypt.MinCost || policy.BcryptCost > bcrypt.MaxCost {
		policy.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, sessions: sessions, tokens: tokens, hooks: hooks, policy: policy, log: log}
}

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. The first account, and any username listed
// in Policy.Admins, becomes an admin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	if !s.policy.AllowRegistration {
		return User{}, apperrors.Forbidden("Registration is closed")
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if !usernamePattern.MatchString(in.Username) {
		return User{}, apperrors.Validation("username", "Username must be 3 to 32 letters, digits, dots, dashes or underscores")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return User{}, apperrors.Validation("email", "Email address is invalid")
	}
	if len(in.Password) < s.policy.MinPasswordLength {
		return User{}, apperrors.Validation("password", fmt.Sprintf("Password must be at least %d characters", s.policy.MinPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.policy.BcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	role := identity.RoleMember
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return User{}, err
	}
	if count == 0 || s.isConfiguredAdmin(in.Username) {
		role = identity.RoleAdmin
	}

	user, err := s.users.CreateUser(ctx, User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return User{}, err
	}

	s.log.WithContext(ctx).WithField("user_id", user.ID).WithField("role", user.Role).Info("user registered")
	s.fire(ctx, hook.UserRegister, &hook.UserEvent{UserID: user.ID, Username: user.Username, Role: user.Role})
	return user, nil
}

func (s *Service) isConfiguredAdmin(username string) bool {
	for _, admin := range s.policy.Admins {
		if strings.EqualFold(admin, username) {
			return true
		}
	}
	return false
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
	SessionID string
}

// Login checks the password of the account named by login (username or
// email) and opens a session.
func (s *Service) Login(ctx context.Context, login, password string) (LoginResult, error) {
	user, err := s.users.FindUser(ctx, strings.TrimSpace(login))
	if errors.Is(err, ErrUserNotFound) {
		// Spend the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"login": login, "reason": "unknown user"})
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"login": login, "reason": "bad password"})
		return LoginResult{}, ErrInvalidCredentials
	}

	raw, claims, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	sess := session.Session{
		ID:        claims.SessionID(),
		UserID:    user.ID,
		CreatedAt: claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return LoginResult{}, fmt.Errorf("open session: %w", err)
	}

	s.log.WithContext(ctx).WithField("user_id", user.ID).Info("user logged in")
	s.fire(ctx, hook.UserLogin, &hook.UserEvent{UserID: user.ID, Username: user.Username, Role: user.Role, SessionID: sess.ID})
	return LoginResult{Token: raw, ExpiresAt: sess.ExpiresAt, User: user, SessionID: sess.ID}, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.MinCost)

// Logout revokes the session of id.
func (s *Service) Logout(ctx context.Context, id identity.Identity) error {
	if err := s.sessions.Delete(ctx, id.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.fire(ctx, hook.UserLogout, &hook.UserEvent{UserID: id.UserID, Username: id.Username, Role: id.Role, SessionID: id.SessionID})
	return nil
}

// Resolve turns a bearer token into an identity. The session must still
// exist and the role is read from the account, not the token.
func (s *Service) Resolve(ctx context.Context, raw string) (identity.Identity, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return identity.Identity{}, err
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID())
	if errors.Is(err, session.ErrNotFound) {
		return identity.Identity{}, ErrSessionRevoked
	}
	if err != nil {
		return identity.Identity{}, err
	}
	if sess.UserID != claims.UserID {
		return identity.Identity{}, ErrSessionRevoked
	}
	user, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{UserID: user.ID, Username: user.Username, Role: user.Role, SessionID: sess.ID}, nil
}

// SetRole changes the role of an account.
func (s *Service) SetRole(ctx context.Context, userID, role string) (User, error) {
	if role != identity.RoleMember && role != identity.RoleAdmin {
		return User{}, apperrors.Validation("role", "Role must be member or admin")
	}
	user, err := s.users.UpdateRole(ctx, userID, role)
	if err != nil {
		return User{}, err
	}
	s.log.WithContext(ctx).WithField("target_user", userID).WithField("role", role).Info("user role changed")
	return user, nil
}

func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.users.GetUser(ctx, id)
}

func (s *Service) Users(ctx context.Context) ([]User, error) {
	return s.users.ListUsers(ctx)
}

// Profile renders the public view of user through the user.profile filter.
func (s *Service) Profile(ctx context.Context, user User) (map[string]interface{}, error) {
	profile := map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"role":       user.Role,
		"created_at": user.CreatedAt,
	}
	return hook.ApplyAs(ctx, s.hooks, hook.UserProfile, profile)
}

func (s *Service) fire(ctx context.Context, name string, ev *hook.UserEvent) {
	if err := s.hooks.Do(ctx, name, ev); err != nil {
		s.log.WithContext(ctx).WithField("hook", name).WithError(err).Warn("hook failed")
	}
}
