package challenge

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

type TokenSuite struct {
	suite.Suite
	signer *TokenSigner
	now    time.Time
}

func (s *TokenSuite) SetupTest() {
	signer, err := NewTokenSigner("test-signing-key", 5*time.Minute)
	s.Require().NoError(err)
	s.signer = signer
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func TestTokenSuite(t *testing.T) {
	suite.Run(t, new(TokenSuite))
}

func (s *TokenSuite) TestNewValidation() {
	_, err := NewTokenSigner("", time.Minute)
	s.Error(err)

	_, err = NewTokenSigner("key", 0)
	s.Error(err)
}

func (s *TokenSuite) TestMintVerifyRoundTrip() {
	subID := id.NewSubmissionID()

	token, err := s.signer.Mint(subID, s.now)
	s.Require().NoError(err)
	s.NotEmpty(token)

	got, err := s.signer.Verify(token, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(subID, got)
}

func (s *TokenSuite) TestExpiredToken() {
	token, err := s.signer.Mint(id.NewSubmissionID(), s.now)
	s.Require().NoError(err)

	_, err = s.signer.Verify(token, s.now.Add(6*time.Minute))
	s.ErrorIs(err, sentinel.ErrExpired)
}

func (s *TokenSuite) TestWrongKeyRejected() {
	other, err := NewTokenSigner("another-key", 5*time.Minute)
	s.Require().NoError(err)

	token, err := other.Mint(id.NewSubmissionID(), s.now)
	s.Require().NoError(err)

	_, err = s.signer.Verify(token, s.now)
	s.Error(err)
	s.NotErrorIs(err, sentinel.ErrExpired)
}

func (s *TokenSuite) TestWrongSigningMethodRejected() {
	// An unsigned token claims the "none" method; the verifier must refuse it
	// before looking at claims.
	claims := jwt.RegisteredClaims{
		Subject:   id.NewSubmissionID().String(),
		ExpiresAt: jwt.NewNumericDate(s.now.Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	s.Require().NoError(err)

	_, err = s.signer.Verify(token, s.now)
	s.Error(err)
}

func (s *TokenSuite) TestGarbageTokenRejected() {
	_, err := s.signer.Verify("not-a-jwt", s.now)
	s.Error(err)
}
