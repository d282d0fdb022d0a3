package handler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stealth/internal/platform/config"
	"stealth/internal/registry/handler/mocks"
	"stealth/internal/registry/models"
	"stealth/internal/registry/service"
	"stealth/internal/registry/slot"
	"stealth/internal/registry/store"
	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
	"stealth/pkg/platform/proof"
	"stealth/pkg/testutil"
)

const testAudience = "stealth-test"

// RegistryHandlerSuite exercises the HTTP surface with a mocked service.
//
// Justification: status mapping and proof enforcement are transport concerns.
// Service semantics are covered in the service suite.
type RegistryHandlerSuite struct {
	suite.Suite
	router  http.Handler
	service *mocks.MockService
	key     ed25519.PrivateKey
	signer  domain.Identity
}

func TestRegistryHandlerSuite(t *testing.T) {
	suite.Run(t, new(RegistryHandlerSuite))
}

func (s *RegistryHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(s.service, proof.NewVerifier(testAudience, 5*time.Minute), logger)
	r := chi.NewRouter()
	h.Register(r)
	s.router = r

	s.key, s.signer = newIdentity(s.T())
}

func newIdentity(t *testing.T) (ed25519.PrivateKey, domain.Identity) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	id, err := domain.IdentityFromPublicKey(pub)
	require.NoError(t, err)
	return priv, id
}

func (s *RegistryHandlerSuite) proofFor(key ed25519.PrivateKey) string {
	token, err := proof.Sign(key, testAudience, time.Now(), time.Minute)
	s.Require().NoError(err)
	return token
}

func (s *RegistryHandlerSuite) do(method, path string, body any, proofs ...string) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), method, path, body, proofs...))
}

func (s *RegistryHandlerSuite) entry(handle string, authority, destination domain.Identity) *models.Entry {
	_, addr := newIdentity(s.T())
	return &models.Entry{Handle: handle, Address: addr, Authority: authority, Destination: destination, Bump: 254}
}

func (s *RegistryHandlerSuite) TestHandleCreate() {
	s.Run("missing proof is rejected before the service", func() {
		rec := s.do(http.MethodPost, "/v1/handles", map[string]string{"handle": "ariel"})

		testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("invalid proof is rejected", func() {
		rec := s.do(http.MethodPost, "/v1/handles", map[string]string{"handle": "ariel"}, "not-a-token")

		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("authority defaults to the signer", func() {
		created := s.entry("ariel", s.signer, s.signer)
		s.service.EXPECT().Create(gomock.Any(), service.CreateRequest{
			Handle:    "ariel",
			Authority: s.signer,
		}).Return(created, nil)

		rec := s.do(http.MethodPost, "/v1/handles", map[string]string{"handle": "ariel"}, s.proofFor(s.key))

		s.Require().Equal(http.StatusCreated, rec.Code)
		resp := testutil.UnmarshalResponse[EntryResponse](s.T(), rec)
		s.Equal("ariel", resp.Handle)
		s.Equal(created.Address, resp.Address)
		s.Equal(s.signer, resp.Authority)
		s.Equal(s.signer, resp.Destination)
		s.Equal(uint8(254), resp.Bump)
	})

	s.Run("explicit authority and destination are passed through", func() {
		_, wallet := newIdentity(s.T())
		s.service.EXPECT().Create(gomock.Any(), service.CreateRequest{
			Handle:      "ariel",
			Authority:   s.signer,
			Destination: &wallet,
		}).Return(s.entry("ariel", s.signer, wallet), nil)

		rec := s.do(http.MethodPost, "/v1/handles", map[string]string{
			"handle":      "ariel",
			"authority":   s.signer.String(),
			"destination": wallet.String(),
		}, s.proofFor(s.key))

		s.Equal(http.StatusCreated, rec.Code)
	})

	s.Run("a proof cannot be presented twice", func() {
		_, next := newIdentity(s.T())
		token := s.proofFor(s.key)
		s.service.EXPECT().TransferAuthority(gomock.Any(), "ariel", next).
			Return(s.entry("ariel", next, s.signer), nil).Times(1)

		first := s.do(http.MethodPut, "/v1/handles/ariel/authority", map[string]string{"authority": next.String()}, token)
		second := s.do(http.MethodPut, "/v1/handles/ariel/authority", map[string]string{"authority": next.String()}, token)

		s.Equal(http.StatusOK, first.Code)
		testutil.AssertStatusAndError(s.T(), second, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("unknown fields are rejected", func() {
		rec := s.do(http.MethodPost, "/v1/handles", map[string]string{"handle": "ariel", "owner": "x"}, s.proofFor(s.key))

		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("malformed identity is rejected", func() {
		rec := s.do(http.MethodPost, "/v1/handles", map[string]string{"handle": "ariel", "authority": "0OIl"}, s.proofFor(s.key))

		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *RegistryHandlerSuite) TestErrorStatusMapping() {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", models.ErrInvalidHandleChars, http.StatusBadRequest, "validation_error"},
		{"authority not proven", models.ErrAuthorizationFailed, http.StatusUnauthorized, "unauthorized"},
		{"already registered", models.ErrHandleAlreadyRegistered, http.StatusConflict, "conflict"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "operation timed out"), http.StatusGatewayTimeout, "timeout"},
		{"internal", dErrors.New(dErrors.CodeInternal, "connection refused"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.service.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, tc.err)

			rec := s.do(http.MethodPost, "/v1/handles", map[string]string{"handle": "ariel"}, s.proofFor(s.key))

			s.Equal(tc.status, rec.Code)
			body := testutil.UnmarshalErrorResponse(s.T(), rec)
			s.Equal(tc.code, body["error"])
			if tc.status == http.StatusInternalServerError {
				s.NotContains(body, "error_description")
			}
		})
	}
}

func (s *RegistryHandlerSuite) TestHandleTransferAuthority() {
	_, next := newIdentity(s.T())

	s.Run("current authority transfers", func() {
		s.service.EXPECT().TransferAuthority(gomock.Any(), "ariel", next).
			DoAndReturn(func(ctx context.Context, handle string, _ domain.Identity) (*models.Entry, error) {
				return s.entry(handle, next, s.signer), nil
			})

		rec := s.do(http.MethodPut, "/v1/handles/ariel/authority", map[string]string{"authority": next.String()}, s.proofFor(s.key))

		s.Require().Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[EntryResponse](s.T(), rec)
		s.Equal(next, resp.Authority)
		s.Equal(s.signer, resp.Destination)
	})

	s.Run("non-authority is forbidden", func() {
		s.service.EXPECT().TransferAuthority(gomock.Any(), "ariel", next).Return(nil, models.ErrUnauthorized)

		rec := s.do(http.MethodPut, "/v1/handles/ariel/authority", map[string]string{"authority": next.String()}, s.proofFor(s.key))

		testutil.AssertStatusAndError(s.T(), rec, http.StatusForbidden, "forbidden")
	})

	s.Run("missing authority field", func() {
		rec := s.do(http.MethodPut, "/v1/handles/ariel/authority", map[string]string{}, s.proofFor(s.key))

		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("missing proof", func() {
		rec := s.do(http.MethodPut, "/v1/handles/ariel/authority", map[string]string{"authority": next.String()})

		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *RegistryHandlerSuite) TestHandleSetDestination() {
	_, wallet := newIdentity(s.T())

	s.Run("updates destination", func() {
		s.service.EXPECT().SetDestination(gomock.Any(), "ariel", wallet).
			Return(s.entry("ariel", s.signer, wallet), nil)

		rec := s.do(http.MethodPut, "/v1/handles/ariel/destination", map[string]string{"destination": wallet.String()}, s.proofFor(s.key))

		s.Require().Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[EntryResponse](s.T(), rec)
		s.Equal(wallet, resp.Destination)
		s.Equal(s.signer, resp.Authority)
	})

	s.Run("unknown handle", func() {
		s.service.EXPECT().SetDestination(gomock.Any(), "nobody", wallet).Return(nil, models.ErrHandleNotFound)

		rec := s.do(http.MethodPut, "/v1/handles/nobody/destination", map[string]string{"destination": wallet.String()}, s.proofFor(s.key))

		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *RegistryHandlerSuite) TestHandleLookup() {
	s.Run("found without proof", func() {
		s.service.EXPECT().Lookup(gomock.Any(), "ariel").Return(s.entry("ariel", s.signer, s.signer), nil)

		rec := s.do(http.MethodGet, "/v1/handles/ariel", nil)

		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("not found", func() {
		s.service.EXPECT().Lookup(gomock.Any(), "ghost").Return(nil, models.ErrHandleNotFound)

		rec := s.do(http.MethodGet, "/v1/handles/ghost", nil)

		testutil.AssertStatusAndError(s.T(), rec, http.StatusNotFound, "not_found")
	})
}

func (s *RegistryHandlerSuite) TestHandleResolve() {
	_, wallet := newIdentity(s.T())
	s.service.EXPECT().Resolve(gomock.Any(), "ariel.stealth").Return(wallet, nil)

	rec := s.do(http.MethodGet, "/v1/resolve/ariel.stealth", nil)

	s.Require().Equal(http.StatusOK, rec.Code)
	resp := testutil.UnmarshalResponse[ResolveResponse](s.T(), rec)
	s.Equal("ariel.stealth", resp.Name)
	s.Equal("ariel", resp.Handle)
	s.Equal(wallet, resp.Destination)
}

// Justification: whitespace handling spans request decoding and handle
// validation, so this runs against the real service.
func TestCreateKeepsHandleVerbatim(t *testing.T) {
	svc, err := service.New(store.NewInMemory(), slot.NewDeriver(domain.MustParseIdentity(config.DefaultProgramID)))
	require.NoError(t, err)
	r := chi.NewRouter()
	New(svc, proof.NewVerifier(testAudience, 5*time.Minute), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	key, _ := newIdentity(t)
	token, err := proof.Sign(key, testAudience, time.Now(), time.Minute)
	require.NoError(t, err)

	rec := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/v1/handles", map[string]string{"handle": "  ariel\t"}, token))
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "validation_error")

	rec = testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/v1/handles/ariel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	var zero domain.Identity

	t.Run("create rejects zero destination", func(t *testing.T) {
		req := &CreateHandleRequest{Handle: "ariel", Destination: &zero}
		err := req.Validate()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("create keeps the handle verbatim", func(t *testing.T) {
		req := &CreateHandleRequest{Handle: " ariel "}
		require.NoError(t, req.Validate())
		assert.Equal(t, " ariel ", req.Handle)
	})

	t.Run("transfer requires authority", func(t *testing.T) {
		assert.Error(t, (&TransferAuthorityRequest{Authority: &zero}).Validate())
	})
}
