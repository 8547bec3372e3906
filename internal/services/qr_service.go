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

// QRService issues short-lived receive-payment codes: a QR wrapping the
// account's UPI alias that another customer can scan to prefill a UPI
// transfer. Codes are single-use and expire from Redis.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
	}
}

// ReceiveCode is the payload embedded in a receive-payment QR.
type ReceiveCode struct {
	UPIID      string `json:"upiId"`
	HolderName string `json:"name"`
	Amount     int64  `json:"amount,omitempty"` // in paise, 0 = payer chooses
	Timestamp  int64  `json:"timestamp"`
	Nonce      string `json:"nonce"`
}

// GenerateReceiveCode builds a QR for the account's UPI alias. Accounts
// without an alias cannot receive by QR.
func (s *QRService) GenerateReceiveCode(ctx context.Context, accountNumber string, amount int64) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("%w: QR codes require Redis", ErrUnavailable)
	}

	var upiID sql.NullString
	var holderName string
	err := s.db.QueryRowContext(ctx, `
		SELECT upi_id, account_holder_name FROM accounts WHERE account_number = $1`,
		accountNumber).Scan(&upiID, &holderName)
	if err == sql.ErrNoRows {
		return "", "", ErrAccountNotFound
	}
	if err != nil {
		return "", "", classifyInfra("lookup account for QR", err)
	}
	if !upiID.Valid || upiID.String == "" {
		return "", "", fmt.Errorf("%w: account has no UPI ID", ErrNotFound)
	}

	payload := ReceiveCode{
		UPIID:      upiID.String,
		HolderName: holderName,
		Amount:     amount,
		Timestamp:  time.Now().Unix(),
		Nonce:      generateNonce(),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", classifyInfra("cache QR code", err)
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

// ProcessReceiveCode validates a scanned code and returns its payload,
// consuming the code so it cannot be replayed.
func (s *QRService) ProcessReceiveCode(ctx context.Context, code string) (*ReceiveCode, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("%w: QR codes require Redis", ErrUnavailable)
	}

	key := fmt.Sprintf("qr:%s", code)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: invalid or expired QR code", ErrNotFound)
	}
	if err != nil {
		return nil, classifyInfra("read QR code", err)
	}

	var payload ReceiveCode
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed QR code", ErrNotFound)
	}

	s.redis.Del(ctx, key)
	return &payload, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
