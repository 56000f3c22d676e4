package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService renders deposit instructions as scannable codes. The payload
// carries the operator bank account to transfer into and the claim the
// transfer should settle.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
	ttl   time.Duration
}

func NewQRService(db *sql.DB, redis *redis.Client, ttl time.Duration) *QRService {
	return &QRService{db: db, redis: redis, ttl: ttl}
}

// DepositInstruction is the decoded QR payload.
type DepositInstruction struct {
	ClaimID       string `json:"claim_id"`
	UserID        int64  `json:"user_id"`
	Amount        int64  `json:"amount"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Timestamp     int64  `json:"timestamp"`
	Nonce         string `json:"nonce"`
}

// GenerateDepositQR builds the payment instruction for an open deposit
// claim and returns the opaque code plus a base64 PNG. The code expires
// with the claim window.
func (s *QRService) GenerateDepositQR(ctx context.Context, userID, amount int64, claimID string) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("qr codes unavailable without redis")
	}

	var bankName, accountNumber, accountName string
	err := s.db.QueryRow(`
		SELECT bank_name, account_number, account_name
		FROM bank_accounts
		WHERE type = 'deposit' AND is_active = true
		ORDER BY id ASC
		LIMIT 1`).Scan(&bankName, &accountNumber, &accountName)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("no active deposit account configured")
	}
	if err != nil {
		return "", "", err
	}

	instruction := DepositInstruction{
		ClaimID:       claimID,
		UserID:        userID,
		Amount:        amount,
		BankName:      bankName,
		AccountNumber: accountNumber,
		AccountName:   accountName,
		Timestamp:     time.Now().Unix(),
		Nonce:         s.generateNonce(),
	}

	jsonData, err := json.Marshal(instruction)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolveDepositQR validates a scanned code and returns its instruction.
// Codes are single-use.
func (s *QRService) ResolveDepositQR(ctx context.Context, code string) (*DepositInstruction, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("qr codes unavailable without redis")
	}

	key := fmt.Sprintf("qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var instruction DepositInstruction
	if err := json.Unmarshal(data, &instruction); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &instruction, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
