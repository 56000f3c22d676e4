package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chokdee888/backend/internal/services"
	"github.com/chokdee888/backend/internal/wallet"
)

func TestDecodeBody(t *testing.T) {
	type payload struct {
		Amount int64 `json:"amount"`
	}

	t.Run("valid object", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5000}`))

		var dst payload
		assert.True(t, decodeBody(w, r, &dst))
		assert.Equal(t, int64(5000), dst.Amount)
	})

	t.Run("unknown fields are refused", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5000, "extra": 1}`))

		var dst payload
		assert.False(t, decodeBody(w, r, &dst))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("trailing data is refused", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5000}{"amount": 1}`))

		var dst payload
		assert.False(t, decodeBody(w, r, &dst))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed JSON is refused", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":`))

		var dst payload
		assert.False(t, decodeBody(w, r, &dst))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSendServiceError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{services.ErrAccountNotFound, http.StatusNotFound},
		{services.ErrEntryNotFound, http.StatusNotFound},
		{services.ErrInvalidAmount, http.StatusBadRequest},
		{services.ErrInsufficientFunds, http.StatusBadRequest},
		{services.ErrWalletNotProvisioned, http.StatusBadRequest},
		{services.ErrAccountInactive, http.StatusForbidden},
		{services.ErrAlreadyProcessed, http.StatusConflict},
		{services.ErrExternalTransfer, http.StatusBadGateway},
		{wallet.ErrTransferFailed, http.StatusBadGateway},
		{services.ErrDivergence, http.StatusAccepted},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			sendServiceError(w, tc.err)
			assert.Equal(t, tc.code, w.Code)
		})
	}

	t.Run("wrapped sentinels still map", func(t *testing.T) {
		w := httptest.NewRecorder()
		sendServiceError(w, fmt.Errorf("%w: upstream said no", services.ErrExternalTransfer))
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
