package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-window-api/internal/models"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
	"github.com/noah-isme/exam-window-api/pkg/realtime"
)

// TokenConfig holds the secrets shared with the identity service.
type TokenConfig struct {
	AccessTokenSecret string
	Issuer            string
}

// TokenService validates bearer tokens issued by the identity service and exchanges them for
// realtime subscription tickets.
type TokenService struct {
	config  TokenConfig
	tickets *realtime.TicketSigner
	logger  *zap.Logger
}

// NewTokenService constructs TokenService.
func NewTokenService(config TokenConfig, tickets *realtime.TicketSigner, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{config: config, tickets: tickets, logger: logger}
}

// ValidateToken parses and validates an access token returning the claims.
func (s *TokenService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// IssueRealtimeTicket returns a short-lived ticket for the owner's dashboard room.
func (s *TokenService) IssueRealtimeTicket(ownerID string) (*models.RealtimeTicket, error) {
	if s.tickets == nil {
		return nil, appErrors.Clone(appErrors.ErrFeatureDisabled, "realtime disabled")
	}
	ticket, expiresAt, err := s.tickets.Issue(ownerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue realtime ticket")
	}
	return &models.RealtimeTicket{Ticket: ticket, Room: OwnerRoom(ownerID), ExpiresAt: expiresAt.Unix()}, nil
}

// RedeemRealtimeTicket validates a ticket and returns the room it grants.
func (s *TokenService) RedeemRealtimeTicket(ticket string) (string, error) {
	if s.tickets == nil {
		return "", appErrors.Clone(appErrors.ErrFeatureDisabled, "realtime disabled")
	}
	ownerID, err := s.tickets.Parse(ticket)
	if err != nil {
		s.logger.Sugar().Debugw("realtime ticket rejected", "error", err)
		return "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid realtime ticket")
	}
	return OwnerRoom(ownerID), nil
}
