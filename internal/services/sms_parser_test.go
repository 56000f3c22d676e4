package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBankSMS(t *testing.T) {
	t.Run("standard transfer notification", func(t *testing.T) {
		msg := "มีเงิน10.00บ.โอนเข้าบ/ชxx7109 จากBBL X7902 MR WORAPON CHIN เหลือ94.00บ.31/12/25@00:33"

		parsed := ParseBankSMS(msg)
		assert.NotNil(t, parsed)
		assert.Equal(t, int64(1000), parsed.Amount)
		assert.Equal(t, "7109", parsed.DestAccountLast4)
		assert.Equal(t, "BBL", parsed.SourceBank)
		assert.Equal(t, "7902", parsed.SourceAccountLast4)
		assert.Equal(t, "MR WORAPON CHIN", parsed.SourceName)
		assert.Equal(t, int64(9400), parsed.BalanceAfter)
		assert.Equal(t, "31/12/25@00:33", parsed.DateTime)
		assert.Equal(t, msg, parsed.RawMessage)
	})

	t.Run("thousands separator", func(t *testing.T) {
		msg := "มีเงิน1,500.50บ.โอนเข้าบ/ชxx7109 จากKBANK X1234 MS SOMCHAI เหลือ2,000.00บ.01/01/26@12:00"

		parsed := ParseBankSMS(msg)
		assert.NotNil(t, parsed)
		assert.Equal(t, int64(150050), parsed.Amount)
		assert.Equal(t, "KBANK", parsed.SourceBank)
		assert.Equal(t, int64(200000), parsed.BalanceAfter)
	})

	t.Run("whitespace and newlines are normalized", func(t *testing.T) {
		msg := "มีเงิน10.00บ.โอนเข้าบ/ชxx7109\n จากBBL  X7902   MR WORAPON CHIN  เหลือ94.00บ.31/12/25@00:33"

		parsed := ParseBankSMS(msg)
		assert.NotNil(t, parsed)
		assert.Equal(t, "MR WORAPON CHIN", parsed.SourceName)
	})

	t.Run("missing amount", func(t *testing.T) {
		assert.Nil(t, ParseBankSMS("โอนเข้าบ/ชxx7109 จากBBL X7902"))
	})

	t.Run("missing destination", func(t *testing.T) {
		assert.Nil(t, ParseBankSMS("มีเงิน10.00บ. จากBBL X7902"))
	})

	t.Run("missing source", func(t *testing.T) {
		assert.Nil(t, ParseBankSMS("มีเงิน10.00บ.โอนเข้าบ/ชxx7109 เหลือ94.00บ."))
	})

	t.Run("unrelated message", func(t *testing.T) {
		assert.Nil(t, ParseBankSMS("Your OTP is 123456"))
	})

	t.Run("optional fields may be absent", func(t *testing.T) {
		msg := "มีเงิน10.00บ.โอนเข้าบ/ชxx7109 จากBBL X7902"

		parsed := ParseBankSMS(msg)
		assert.NotNil(t, parsed)
		assert.Empty(t, parsed.SourceName)
		assert.Zero(t, parsed.BalanceAfter)
		assert.Empty(t, parsed.DateTime)
	})
}

func TestMatchBankName(t *testing.T) {
	t.Run("thai alias", func(t *testing.T) {
		assert.True(t, MatchBankName("BBL", "กรุงเทพ"))
		assert.True(t, MatchBankName("KBANK", "ธนาคารกสิกรไทย"))
		assert.True(t, MatchBankName("SCB", "ไทยพาณิชย์"))
	})

	t.Run("english alias case-insensitive", func(t *testing.T) {
		assert.True(t, MatchBankName("BBL", "Bangkok Bank"))
		assert.True(t, MatchBankName("bay", "Krungsri"))
	})

	t.Run("mismatch", func(t *testing.T) {
		assert.False(t, MatchBankName("BBL", "กสิกรไทย"))
		assert.False(t, MatchBankName("KTB", "ออมสิน"))
	})

	t.Run("unknown code falls back to direct compare", func(t *testing.T) {
		assert.True(t, MatchBankName("XYZ", "xyz"))
		assert.False(t, MatchBankName("XYZ", "abc"))
	})
}

func TestMatchAccountLast4(t *testing.T) {
	assert.True(t, MatchAccountLast4("123-4-56789-0", "7890"))
	assert.True(t, MatchAccountLast4("1234567890", "7890"))
	assert.False(t, MatchAccountLast4("1234567890", "1234"))
	assert.False(t, MatchAccountLast4("", "1234"))
}

func TestMessageHash(t *testing.T) {
	a := MessageHash("same message")
	b := MessageHash("  same message  ")
	c := MessageHash("different message")

	assert.Equal(t, a, b, "hash ignores surrounding whitespace")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestBankThaiName(t *testing.T) {
	assert.Equal(t, "กรุงเทพ", BankThaiName("BBL"))
	assert.Equal(t, "กสิกรไทย", BankThaiName("kbank"))
	assert.Equal(t, "UNKNOWN", BankThaiName("UNKNOWN"))
}

func TestParseBahtAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10.00", 1000},
		{"1,500.50", 150050},
		{"0.5", 50},
		{"7", 700},
		{"1,234,567.89", 123456789},
	}
	for _, tc := range cases {
		got, err := parseBahtAmount(tc.in)
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseBahtAmount("abc")
	assert.Error(t, err)
}
