package services

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	apperrors "koma/pkg/errors"
	"koma/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type inviteClaims struct {
	Provider  string        `json:"provider"`
	Room      domain.RoomID `json:"room"`
	Role      domain.Role   `json:"role"`
	Autostart bool          `json:"autostart,omitempty"`
	jwt.RegisteredClaims
}

type inviteService struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewInviteService(secret string, ttl time.Duration, baseURL string) ports.InviteService {
	return &inviteService{
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Create derives the call room from the provider label and signs a link to it.
func (s *inviteService) Create(provider string, role domain.Role, autostart bool) (domain.Invite, error) {
	if err := validation.ValidateProviderLabel(provider); err != nil {
		return domain.Invite{}, apperrors.NewInvalidInputError(err.Error())
	}
	if role != domain.RoleInitiator && role != domain.RoleResponder {
		return domain.Invite{}, apperrors.NewInvalidInputError(fmt.Sprintf("unknown role %q", role))
	}

	now := s.now()
	claims := &inviteClaims{
		Provider:  provider,
		Room:      domain.CallRoom(provider),
		Role:      role,
		Autostart: autostart,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return domain.Invite{}, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to sign invite", http.StatusInternalServerError)
	}

	invite := s.invite(claims)
	invite.Token = token
	invite.Link = s.link(invite)
	return invite, nil
}

func (s *inviteService) Decode(token string) (domain.Invite, error) {
	claims := &inviteClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Invite{}, apperrors.WrapError(ErrExpiredToken, apperrors.ErrCodeUnauthorized, "invite expired", http.StatusUnauthorized)
		}
		return domain.Invite{}, apperrors.WrapError(ErrInvalidToken, apperrors.ErrCodeUnauthorized, "invalid invite", http.StatusUnauthorized)
	}
	if !parsed.Valid {
		return domain.Invite{}, apperrors.WrapError(ErrInvalidToken, apperrors.ErrCodeUnauthorized, "invalid invite", http.StatusUnauthorized)
	}

	invite := s.invite(claims)
	invite.Token = token
	invite.Link = s.link(invite)
	return invite, nil
}

func (s *inviteService) invite(c *inviteClaims) domain.Invite {
	inv := domain.Invite{
		Provider:  c.Provider,
		Room:      c.Room,
		Role:      c.Role,
		Autostart: c.Autostart,
	}
	if c.ExpiresAt != nil {
		inv.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return inv
}

// link renders the join URL the browser client understands.
func (s *inviteService) link(inv domain.Invite) string {
	q := url.Values{}
	q.Set("room", string(inv.Room))
	q.Set("role", string(inv.Role))
	if inv.Autostart {
		q.Set("autostart", "1")
	}
	q.Set("token", inv.Token)
	return s.baseURL + "?" + q.Encode()
}
