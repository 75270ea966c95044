package paymentwebhook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
	"github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) VerifySignature(rawBody []byte, signature string) bool {
	args := m.Called(rawBody, signature)
	return args.Bool(0)
}

func (m *MockGateway) DecodeWebhook(rawBody []byte) (*paymentprovider.WebhookEvent, error) {
	args := m.Called(rawBody)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.WebhookEvent), args.Error(1)
}

type MockService struct {
	mock.Mock
}

func (m *MockService) HandleWebhook(ctx context.Context, event *paymentprovider.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestWebhookHandler_ServeHTTP(t *testing.T) {
	body := []byte(`{"transactionId":"tx-1","status":"CONFIRMED"}`)
	event := &paymentprovider.WebhookEvent{TransactionID: "tx-1", Status: "CONFIRMED"}

	tests := []struct {
		name           string
		signature      string
		setupMocks     func(*MockGateway, *MockService)
		expectedStatus int
	}{
		{
			name:      "success - webhook processed",
			signature: "valid-sig",
			setupMocks: func(g *MockGateway, s *MockService) {
				g.On("VerifySignature", body, "valid-sig").Return(true).Once()
				g.On("DecodeWebhook", body).Return(event, nil).Once()
				s.On("HandleWebhook", mock.Anything, event).Return(nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:      "invalid signature",
			signature: "bad-sig",
			setupMocks: func(g *MockGateway, s *MockService) {
				g.On("VerifySignature", body, "bad-sig").Return(false).Once()
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:      "malformed payload",
			signature: "valid-sig",
			setupMocks: func(g *MockGateway, s *MockService) {
				g.On("VerifySignature", body, "valid-sig").Return(true).Once()
				g.On("DecodeWebhook", body).Return(nil, &paymentprovider.MalformedWebhookError{Reason: "missing status"}).Once()
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:      "unknown transaction",
			signature: "valid-sig",
			setupMocks: func(g *MockGateway, s *MockService) {
				g.On("VerifySignature", body, "valid-sig").Return(true).Once()
				g.On("DecodeWebhook", body).Return(event, nil).Once()
				s.On("HandleWebhook", mock.Anything, event).Return(provisioning.ErrPaymentNotFound).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:      "processing error",
			signature: "valid-sig",
			setupMocks: func(g *MockGateway, s *MockService) {
				g.On("VerifySignature", body, "valid-sig").Return(true).Once()
				g.On("DecodeWebhook", body).Return(event, nil).Once()
				s.On("HandleWebhook", mock.Anything, event).Return(errors.New("storage down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &MockGateway{}
			service := &MockService{}
			tt.setupMocks(gateway, service)

			handler := New(newNoopLogger(), gateway, service)

			req := httptest.NewRequest(http.MethodPost, "/webhook/platega", bytes.NewReader(body))
			req.Header.Set("X-Signature", tt.signature)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			gateway.AssertExpectations(t)
			service.AssertExpectations(t)
		})
	}
}
