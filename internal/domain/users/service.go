package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactive           = errors.New("account is deactivated")
	ErrInvalid            = errors.New("invalid request")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Service struct {
	users  Repository
	tokens *auth.TokenIssuer
	now    func() time.Time
}

func NewService(users Repository, tokens *auth.TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens, now: time.Now}
}

// Create stores a new account with a bcrypt hash of the password. The
// email is lower-cased so lookups are case-insensitive.
func (s *Service) Create(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.FirstName == "" || req.LastName == "" {
		return nil, invalidf("first_name and last_name are required")
	}
	if req.Email == "" {
		return nil, invalidf("email is required")
	}
	if req.Role == "" {
		req.Role = auth.RolePatient
	}
	if !auth.ValidRole(req.Role) {
		return nil, invalidf("invalid role: %s", req.Role)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		PasswordHash:   hash,
		Role:           req.Role,
		PhoneNumber:    req.PhoneNumber,
		Gender:         req.Gender,
		Address:        req.Address,
		Specialization: req.Specialization,
		LicenseNumber:  req.LicenseNumber,
		IsActive:       true,
	}
	if req.DateOfBirth != nil && *req.DateOfBirth != "" {
		dob, err := ParseDate(*req.DateOfBirth)
		if err != nil {
			return nil, invalidf("invalid date_of_birth: %s", *req.DateOfBirth)
		}
		u.DateOfBirth = &dob
	}

	if existing, err := s.users.GetByEmail(ctx, u.Email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	u, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInactive
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	u.LastLogin = &now
	return s.issue(u)
}

func (s *Service) issue(u *User) (*AuthResponse, error) {
	token, exp, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}

// Logout revokes the bearer token of p.
func (s *Service) Logout(p *auth.Principal) {
	s.tokens.Revoke(p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetMany returns the users with the given ids keyed by id. Unknown ids
// are skipped.
func (s *Service) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	found, err := s.users.GetMany(ctx, unique)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*User, len(found))
	for _, u := range found {
		out[u.ID] = u
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, invalidf("invalid role: %s", role)
	}
	return s.users.List(ctx, ListFilter{Role: role}, limit, offset)
}

func (s *Service) Doctors(ctx context.Context) ([]*User, error) {
	items, _, err := s.users.List(ctx, ListFilter{Role: auth.RoleDoctor}, 0, 0)
	return items, err
}

// UpdateProfile applies the self-service fields of upd to the caller's
// own account.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd *ProfileUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyProfile(u, upd); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// AdminUpdate lets an admin change any profile field plus role and
// activation. Demoting or deactivating a user revokes their tokens.
func (s *Service) AdminUpdate(ctx context.Context, id uuid.UUID, upd *AdminUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyProfile(u, &upd.ProfileUpdate); err != nil {
		return nil, err
	}

	revoke := false
	if upd.Role != nil && *upd.Role != u.Role {
		if !auth.ValidRole(*upd.Role) {
			return nil, invalidf("invalid role: %s", *upd.Role)
		}
		u.Role = *upd.Role
		revoke = true
	}
	if upd.IsActive != nil {
		if u.IsActive && !*upd.IsActive {
			revoke = true
		}
		u.IsActive = *upd.IsActive
	}

	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	if revoke {
		s.tokens.RevokeUser(u.ID)
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.tokens.RevokeUser(id)
	return nil
}

func applyProfile(u *User, upd *ProfileUpdate) error {
	if upd.FirstName != nil {
		name := strings.TrimSpace(*upd.FirstName)
		if name == "" {
			return invalidf("first_name must not be empty")
		}
		u.FirstName = name
	}
	if upd.LastName != nil {
		name := strings.TrimSpace(*upd.LastName)
		if name == "" {
			return invalidf("last_name must not be empty")
		}
		u.LastName = name
	}
	if upd.DateOfBirth != nil {
		if *upd.DateOfBirth == "" {
			u.DateOfBirth = nil
		} else {
			dob, err := ParseDate(*upd.DateOfBirth)
			if err != nil {
				return invalidf("invalid date_of_birth: %s", *upd.DateOfBirth)
			}
			u.DateOfBirth = &dob
		}
	}
	setString(&u.PhoneNumber, upd.PhoneNumber)
	setString(&u.Gender, upd.Gender)
	setString(&u.Address, upd.Address)
	setString(&u.Specialization, upd.Specialization)
	setString(&u.LicenseNumber, upd.LicenseNumber)
	setString(&u.ProfilePicture, upd.ProfilePicture)
	if upd.MedicalHistory != nil {
		u.MedicalHistory = upd.MedicalHistory
	}
	return nil
}

// setString copies v into dst; an empty string clears the field.
func setString(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	val := *v
	*dst = &val
}
