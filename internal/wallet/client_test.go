package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chokdee888/backend/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(&config.WalletConfig{
		BaseURL:          server.URL,
		APIKey:           "test-key",
		APICat:           "test-cat",
		UserPrefix:       "CHKK",
		RequestTimeout:   2 * time.Second,
		DuplicateRefCode: 9,
	}), server
}

func TestClient_Provision(t *testing.T) {
	t.Run("registers with prefix and last six phone digits", func(t *testing.T) {
		var gotUsername string
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v4/user/register", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "test-cat", r.Header.Get("x-api-cat"))
			r.ParseForm()
			gotUsername = r.PostForm.Get("username")
			json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"data":   map[string]string{"username": "AG-CHKK567890"},
			})
		})

		username, err := client.Provision(context.Background(), "0811567890")
		assert.NoError(t, err)
		assert.Equal(t, "CHKK567890", gotUsername)
		assert.Equal(t, "AG-CHKK567890", username)
	})

	t.Run("upstream refusal", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "msg": "username taken"})
		})

		_, err := client.Provision(context.Background(), "0811567890")
		assert.ErrorIs(t, err, ErrRegisterFailed)
	})
}

func TestClient_Transfer(t *testing.T) {
	t.Run("sends amount in baht", func(t *testing.T) {
		var gotAmount, gotRef string
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v4/user/transfer", r.URL.Path)
			r.ParseForm()
			gotAmount = r.PostForm.Get("amount")
			gotRef = r.PostForm.Get("ref")
			json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		})

		err := client.Transfer(context.Background(), "AG-CHKK567890", 50000, "DEPOSIT:abc")
		assert.NoError(t, err)
		assert.Equal(t, "500.00", gotAmount)
		assert.Equal(t, "DEPOSIT:abc", gotRef)
	})

	t.Run("negative amount debits", func(t *testing.T) {
		var gotAmount string
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			gotAmount = r.PostForm.Get("amount")
			json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		})

		err := client.Transfer(context.Background(), "AG-CHKK567890", -2550, "WITHDRAW:def")
		assert.NoError(t, err)
		assert.Equal(t, "-25.50", gotAmount)
	})

	t.Run("duplicate ref is treated as success", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status":     "error",
				"msg":        "duplicate reference",
				"error_code": 9,
			})
		})

		err := client.Transfer(context.Background(), "AG-CHKK567890", 50000, "DEPOSIT:abc")
		assert.NoError(t, err)
	})

	t.Run("upstream rejection", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status":     "error",
				"msg":        "insufficient agent credit",
				"error_code": 3,
			})
		})

		err := client.Transfer(context.Background(), "AG-CHKK567890", 50000, "DEPOSIT:abc")
		assert.ErrorIs(t, err, ErrTransferFailed)
	})

	t.Run("timeout is a failure", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		})
		client.http.Timeout = 10 * time.Millisecond

		err := client.Transfer(context.Background(), "AG-CHKK567890", 50000, "DEPOSIT:abc")
		assert.ErrorIs(t, err, ErrTransferFailed)
	})

	t.Run("non-200 is a failure", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		err := client.Transfer(context.Background(), "AG-CHKK567890", 50000, "DEPOSIT:abc")
		assert.ErrorIs(t, err, ErrTransferFailed)
	})
}

func TestClient_GetBalance(t *testing.T) {
	balanceClient := func(t *testing.T, balance string) *Client {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v4/user/balance", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"data":   map[string]string{"balance": balance},
			})
		})
		return client
	}

	t.Run("converts baht to satang", func(t *testing.T) {
		balance, err := balanceClient(t, "1234.56").GetBalance(context.Background(), "AG-CHKK567890")
		assert.NoError(t, err)
		assert.Equal(t, int64(123456), balance)
	})

	t.Run("no float truncation on awkward decimals", func(t *testing.T) {
		balance, err := balanceClient(t, "19.99").GetBalance(context.Background(), "AG-CHKK567890")
		assert.NoError(t, err)
		assert.Equal(t, int64(1999), balance)
	})

	t.Run("malformed balance", func(t *testing.T) {
		_, err := balanceClient(t, "n/a").GetBalance(context.Background(), "AG-CHKK567890")
		assert.Error(t, err)
	})
}

func TestParseBaht(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"19.99", 1999},
		{"94.00", 9400},
		{"1,234.56", 123456},
		{"10", 1000},
		{"10.5", 1050},
		{"10.", 1000},
	}
	for _, tc := range cases {
		got, err := parseBaht(tc.in)
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseBaht("abc")
	assert.Error(t, err)
}

func TestFormatBaht(t *testing.T) {
	assert.Equal(t, "0.00", formatBaht(0))
	assert.Equal(t, "1.00", formatBaht(100))
	assert.Equal(t, "10.50", formatBaht(1050))
	assert.Equal(t, "-99.99", formatBaht(-9999))
}

func TestLastN(t *testing.T) {
	assert.Equal(t, "567890", lastN("0811567890", 6))
	assert.Equal(t, "123", lastN("123", 6))
}
