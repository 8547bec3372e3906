package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/ledger/internal/config"
)

const (
	lockQuery   = "SELECT account_number, account_holder_name, account_balance, version FROM accounts WHERE account_number = \\$1 FOR UPDATE"
	updateQuery = "UPDATE accounts SET account_balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_number = \\$3 AND version = \\$4"
	insertQuery = "INSERT INTO ledger_entries"
)

func testTransferConfig() *config.TransferConfig {
	return &config.TransferConfig{
		LockTimeout:        5 * time.Second,
		MaxIDAttempts:      3,
		IdempotencyEnabled: true,
		IdempotencyTTL:     time.Hour,
	}
}

func lockRows(accountNumber, name string, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"account_number", "account_holder_name", "account_balance", "version"}).
		AddRow(accountNumber, name, balance, version)
}

func TestTransferService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTransferService(db, nil, testTransferConfig())
	ctx := context.Background()

	t.Run("successful transfer", func(t *testing.T) {
		sender := "1111111111"
		receiver := "2222222222"

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(sender).
			WillReturnRows(lockRows(sender, "Alice Kumar", 100000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(receiver).
			WillReturnRows(lockRows(receiver, "Bob Singh", 50000, 3))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(70000), sqlmock.AnyArg(), sender, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(80000), sqlmock.AnyArg(), receiver, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertQuery).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sender, receiver,
				"Alice Kumar", "Bob Singh", "IMPS", int64(30000), "rent", "SUCCESS").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txID, err := service.Transfer(ctx, sender, receiver, 30000, "IMPS", "rent")
		assert.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile("^[0-9A-F]{16}$"), txID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks rows in ascending order regardless of direction", func(t *testing.T) {
		sender := "9999999999"
		receiver := "1111111111"

		mock.ExpectBegin()
		// Receiver has the lower account number, so it is locked first.
		mock.ExpectQuery(lockQuery).WithArgs(receiver).
			WillReturnRows(lockRows(receiver, "Bob Singh", 50000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(sender).
			WillReturnRows(lockRows(sender, "Alice Kumar", 100000, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(90000), sqlmock.AnyArg(), sender, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(60000), sqlmock.AnyArg(), receiver, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertQuery).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sender, receiver,
				"Alice Kumar", "Bob Singh", "UPI", int64(10000), "", "SUCCESS").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := service.Transfer(ctx, sender, receiver, 10000, "UPI", "")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rolls back without mutation", func(t *testing.T) {
		sender := "1111111111"
		receiver := "2222222222"

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(sender).
			WillReturnRows(lockRows(sender, "Alice Kumar", 10000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(receiver).
			WillReturnRows(lockRows(receiver, "Bob Singh", 50000, 1))
		mock.ExpectRollback()

		_, err := service.Transfer(ctx, sender, receiver, 50000, "IMPS", "")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account aborts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("1111111111").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.Transfer(ctx, "1111111111", "2222222222", 100, "IMPS", "")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected before touching the store", func(t *testing.T) {
		_, err := service.Transfer(ctx, "1111111111", "2222222222", 0, "IMPS", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.Transfer(ctx, "1111111111", "2222222222", -500, "IMPS", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("self transfer rejected before touching the store", func(t *testing.T) {
		_, err := service.Transfer(ctx, "1111111111", "1111111111", 100, "IMPS", "")
		assert.ErrorIs(t, err, ErrSelfTransfer)
	})

	t.Run("transaction id collision retries with a fresh id", func(t *testing.T) {
		sender := "1111111111"
		receiver := "2222222222"

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(sender).
			WillReturnRows(lockRows(sender, "Alice Kumar", 100000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(receiver).
			WillReturnRows(lockRows(receiver, "Bob Singh", 50000, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(99000), sqlmock.AnyArg(), sender, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(51000), sqlmock.AnyArg(), receiver, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertQuery).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectExec(insertQuery).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txID, err := service.Transfer(ctx, sender, receiver, 1000, "IMPS", "")
		assert.NoError(t, err)
		assert.Len(t, txID, 16)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("balance conflict is reported as retryable", func(t *testing.T) {
		sender := "1111111111"
		receiver := "2222222222"

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(sender).
			WillReturnRows(lockRows(sender, "Alice Kumar", 100000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(receiver).
			WillReturnRows(lockRows(receiver, "Bob Singh", 50000, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(99000), sqlmock.AnyArg(), sender, 1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := service.Transfer(ctx, sender, receiver, 1000, "IMPS", "")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferService_CreateTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewTransferService(db, redisClient, testTransferConfig())

	withAccount := func(r *http.Request, account string) *http.Request {
		return r.WithContext(context.WithValue(r.Context(), ContextAccountNumber, account))
	}

	t.Run("full transfer via handler", func(t *testing.T) {
		sender := "1111111111"
		receiver := "2222222222"

		mock.ExpectQuery("SELECT account_number, account_holder_name, bank_branch FROM accounts WHERE account_number = \\$1").
			WithArgs(receiver).
			WillReturnRows(sqlmock.NewRows([]string{"account_number", "account_holder_name", "bank_branch"}).
				AddRow(receiver, "Bob Singh", "MG Road"))
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(sender).
			WillReturnRows(lockRows(sender, "Alice Kumar", 100000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(receiver).
			WillReturnRows(lockRows(receiver, "Bob Singh", 50000, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(70000), sqlmock.AnyArg(), sender, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateQuery).
			WithArgs(int64(80000), sqlmock.AnyArg(), receiver, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertQuery).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(TransferRequest{
			Mode:       "IMPS",
			Identifier: receiver,
			Amount:     300.00,
			Note:       "rent",
		})
		r := withAccount(httptest.NewRequest("POST", "/transfers", bytes.NewBuffer(body)), sender)
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, true, resp["success"])
		assert.NotEmpty(t, resp["transactionId"])
		assert.Equal(t, false, resp["replayed"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed idempotency key returns the original id", func(t *testing.T) {
		sender := "1111111111"
		key := "7b9f4a02-60a4-4fd3-9a9a-0af6e5f9a111"
		redisMock.ExpectGet("idem:" + sender + ":" + key).SetVal("AB12CD34EF56AB78")

		body, _ := json.Marshal(TransferRequest{
			Mode:       "IMPS",
			Identifier: "2222222222",
			Amount:     300.00,
		})
		r := withAccount(httptest.NewRequest("POST", "/transfers", bytes.NewBuffer(body)), sender)
		r.Header.Set("Idempotency-Key", key)
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "AB12CD34EF56AB78", resp["transactionId"])
		assert.Equal(t, true, resp["replayed"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("malformed idempotency key rejected", func(t *testing.T) {
		body, _ := json.Marshal(TransferRequest{
			Mode:       "IMPS",
			Identifier: "2222222222",
			Amount:     10,
		})
		r := withAccount(httptest.NewRequest("POST", "/transfers", bytes.NewBuffer(body)), "1111111111")
		r.Header.Set("Idempotency-Key", "not-a-uuid")
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sub-paisa amount rejected", func(t *testing.T) {
		body, _ := json.Marshal(TransferRequest{
			Mode:       "IMPS",
			Identifier: "2222222222",
			Amount:     10.005,
		})
		r := withAccount(httptest.NewRequest("POST", "/transfers", bytes.NewBuffer(body)), "1111111111")
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := withAccount(httptest.NewRequest("POST", "/transfers", bytes.NewBuffer([]byte("invalid"))), "1111111111")
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown mode fails validation", func(t *testing.T) {
		body, _ := json.Marshal(TransferRequest{
			Mode:       "RTGS",
			Identifier: "2222222222",
			Amount:     10,
		})
		r := withAccount(httptest.NewRequest("POST", "/transfers", bytes.NewBuffer(body)), "1111111111")
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated request", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/transfers", bytes.NewBuffer([]byte("{}")))
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestToPaise(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		want    int64
		wantErr bool
	}{
		{"whole rupees", 300.00, 30000, false},
		{"single paisa", 0.01, 1, false},
		{"two decimals", 1234.56, 123456, false},
		{"zero", 0, 0, true},
		{"negative", -5, 0, true},
		{"sub-paisa precision", 10.005, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toPaise(tt.amount)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTransactionID(t *testing.T) {
	a, err := newTransactionID()
	require.NoError(t, err)
	b, err := newTransactionID()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile("^[0-9A-F]{16}$"), a)
	assert.NotEqual(t, a, b)
}
