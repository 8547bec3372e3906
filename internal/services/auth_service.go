package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/sha3"
)

// AuthService is the credential verifier: it validates identity+password
// pairs against stored salted hashes and manages password changes.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// Authenticate resolves identity to a credential row and verifies the
// password. The identity is matched against user id, email and account
// number; if a value happens to collide across fields the first match
// wins, which is a documented design choice. Lookup misses and hash
// mismatches both report ErrInvalidCredentials so the response does not
// leak which half failed.
func (s *AuthService) Authenticate(ctx context.Context, identity, password string) (string, error) {
	var accountNumber, storedHash, storedSalt string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_number, password_hash, salt
		FROM users
		WHERE user_id = $1 OR email = $1 OR account_number = $1
		LIMIT 1`, identity).
		Scan(&accountNumber, &storedHash, &storedSalt)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", classifyInfra("lookup credentials", err)
	}

	computed := hashPassword(password, storedSalt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) != 1 {
		return "", ErrInvalidCredentials
	}
	return accountNumber, nil
}

// ChangePassword generates a fresh salt, recomputes the hash and updates
// the single credential row. Zero rows affected is a NotFound outcome,
// not an error.
func (s *AuthService) ChangePassword(ctx context.Context, accountNumber, newPassword string) error {
	salt, err := newSalt()
	if err != nil {
		return classifyInfra("generate salt", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, salt = $2, updated_at = $3
		WHERE account_number = $4`,
		hashPassword(newPassword, salt), salt, time.Now(), accountNumber)
	if err != nil {
		return classifyInfra("update password", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classifyInfra("update password", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// hashPassword computes hex(H(password || salt)). H defaults to SHA-256;
// auth.hash_scheme selects SHA3-256 for deployments that want it. The
// scheme is fixed per deployment since stored hashes are not annotated.
func hashPassword(password, salt string) string {
	combined := []byte(password + salt)
	switch viper.GetString("auth.hash_scheme") {
	case "sha3-256":
		sum := sha3.Sum256(combined)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(combined)
		return hex.EncodeToString(sum[:])
	}
}

// newSalt returns a fresh URL-safe random salt. Never reused: every
// password change gets its own.
func newSalt() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateJWT(accountNumber string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_number": accountNumber,
		"exp":            time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Identity string `json:"identity" validate:"required" example:"alice01"`           // User id, email or account number
	Password string `json:"password" validate:"required,min=6" example:"password123"` // Plaintext password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token         string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT session token
	AccountNumber string `json:"accountNumber" example:"1234567890"`                      // Canonical account number
}

// Login authenticates a user and issues a session token
// @Summary Login
// @Description Authenticate by user id, email or account number plus password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	accountNumber, err := s.Authenticate(r.Context(), req.Identity, req.Password)
	if err != nil {
		log.Printf("[AUTH] Authentication failed for identity %q", req.Identity)
		SendErrorResponse(w, "Invalid credentials", statusForError(err), nil)
		return
	}

	token, err := generateJWT(accountNumber)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for account %s: %v", accountNumber, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for account %s", accountNumber)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, AccountNumber: accountNumber})
}

// Logout invalidates the presented session token
// @Summary Logout
// @Description Blacklist the current session token until its expiry
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// ChangePasswordRequest represents the password change payload
// @Description Password change request structure
type ChangePasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=6" example:"newpassword123"` // New plaintext password
}

// ResetPassword changes the authenticated user's password
// @Summary Change password
// @Description Set a new password with a freshly generated salt
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Password updated"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /auth/password [post]
func (s *AuthService) ResetPassword(w http.ResponseWriter, r *http.Request) {
	accountNumber, ok := r.Context().Value(ContextAccountNumber).(string)
	if !ok || accountNumber == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ChangePasswordRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.ChangePassword(r.Context(), accountNumber, req.NewPassword); err != nil {
		log.Printf("[AUTH] Password change failed for account %s: %v", accountNumber, err)
		SendErrorResponse(w, "Failed to update password", statusForError(err), nil)
		return
	}

	log.Printf("[AUTH] Password updated for account %s", accountNumber)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password updated successfully!"})
}
