package identity

import "errors"

var (
	// ErrUnauthorized means the backend rejected the bearer token itself
	ErrUnauthorized = errors.New("identity: token rejected")

	// ErrRefreshRejected means the refresh endpoint answered without a new token
	ErrRefreshRejected = errors.New("identity: refresh rejected")

	// ErrInvalidCredentials is returned by Login for a bad username or password
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

// User mirrors the backend user entity. It is cached locally and never
// treated as authoritative.
type User struct {
	ID                  int64           `json:"id"`
	Email               string          `json:"email"`
	Username            string          `json:"username"`
	DisplayName         string          `json:"display_name,omitempty"`
	Profile             map[string]any  `json:"profile,omitempty"`
	Settings            map[string]any  `json:"settings,omitempty"`
	Preferences         map[string]any  `json:"preferences,omitempty"`
	OnboardingCompleted bool            `json:"onboarding_completed"`
	ToursCompleted      map[string]bool `json:"tours_completed,omitempty"`
}

// UserDetails is the user-details response
type UserDetails struct {
	User              User `json:"user"`
	ProfileCompletion *int `json:"profile_completion,omitempty"`
}

// RefreshResult is a successful refresh-token response
type RefreshResult struct {
	Token     string
	ExpiresIn int
}

// LoginResult is a successful username/password login
type LoginResult struct {
	Token string
	User  User
}

// OnboardingUpdate is the body of update-onboarding. Nil fields are left unchanged.
type OnboardingUpdate struct {
	OnboardingCompleted *bool           `json:"onboarding_completed,omitempty"`
	ToursCompleted      map[string]bool `json:"tours_completed,omitempty"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type refreshResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

type userDetailsResponse struct {
	Success           bool  `json:"success"`
	User              *User `json:"user"`
	ProfileCompletion *int  `json:"profile_completion,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    *User  `json:"user"`
	Message string `json:"message,omitempty"`
}
