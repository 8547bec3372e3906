package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/ledger/internal/models"
)

const historyQuery = "SELECT transaction_id, transaction_date, sender_account_number, receiver_account_number, sender_name, receiver_name, mode, amount, note, status FROM ledger_entries WHERE sender_account_number = \\$1 OR receiver_account_number = \\$1 ORDER BY transaction_date DESC"

func historyColumns() []string {
	return []string{"transaction_id", "transaction_date", "sender_account_number", "receiver_account_number",
		"sender_name", "receiver_name", "mode", "amount", "note", "status"}
}

func TestLedgerService_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	ctx := context.Background()
	account := "1111111111"

	t.Run("entries classified relative to the viewer", func(t *testing.T) {
		newer := time.Now()
		older := newer.Add(-time.Hour)
		mock.ExpectQuery(historyQuery).
			WithArgs(account).
			WillReturnRows(sqlmock.NewRows(historyColumns()).
				AddRow("AAAA111122223333", newer, account, "2222222222", "Alice Kumar", "Bob Singh", "IMPS", int64(30000), "rent", "SUCCESS").
				AddRow("BBBB111122223333", older, "3333333333", account, "Carol Iyer", "Alice Kumar", "UPI", int64(5000), "", "SUCCESS"))

		entries, err := service.History(ctx, account)
		assert.NoError(t, err)
		require.Len(t, entries, 2)

		assert.Equal(t, "AAAA111122223333", entries[0].TransactionID)
		assert.Equal(t, models.DirectionDebit, entries[0].Direction)
		assert.Equal(t, models.DirectionCredit, entries[1].Direction)
		assert.True(t, entries[0].TransactionDate.After(entries[1].TransactionDate))
	})

	t.Run("no entries yields an empty list, not an error", func(t *testing.T) {
		mock.ExpectQuery(historyQuery).
			WithArgs(account).
			WillReturnRows(sqlmock.NewRows(historyColumns()))

		entries, err := service.History(ctx, account)
		assert.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})
}

func TestLedgerService_GetAccountDetails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	ctx := context.Background()

	detailColumns := []string{"user_id", "email", "account_number", "account_holder_name",
		"bank_branch", "ifsc_code", "upi_id", "account_balance"}

	t.Run("returns the joined snapshot", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.user_id, u.email").
			WithArgs("1111111111").
			WillReturnRows(sqlmock.NewRows(detailColumns).
				AddRow("alice01", "alice@example.com", "1111111111", "Alice Kumar",
					"MG Road", "CORE0001234", "alice@corebank", int64(100000)))

		details, err := service.GetAccountDetails(ctx, "1111111111")
		assert.NoError(t, err)
		assert.Equal(t, "alice01", details.UserID)
		assert.Equal(t, "alice@corebank", details.UPIID)
		assert.Equal(t, 1000.00, details.Balance)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.user_id, u.email").
			WithArgs("0000000000").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetAccountDetails(ctx, "0000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("null UPI id", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.user_id, u.email").
			WithArgs("2222222222").
			WillReturnRows(sqlmock.NewRows(detailColumns).
				AddRow("bob02", "bob@example.com", "2222222222", "Bob Singh",
					"MG Road", "CORE0001234", nil, int64(50000)))

		details, err := service.GetAccountDetails(ctx, "2222222222")
		assert.NoError(t, err)
		assert.Empty(t, details.UPIID)
	})
}

func TestLedgerService_ListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	account := "1111111111"

	t.Run("renders formatted history", func(t *testing.T) {
		mock.ExpectQuery(historyQuery).
			WithArgs(account).
			WillReturnRows(sqlmock.NewRows(historyColumns()).
				AddRow("AAAA111122223333", time.Now(), account, "2222222222", "Alice Kumar", "Bob Singh", "IMPS", int64(30000), "rent", "SUCCESS"))

		r := httptest.NewRequest("GET", "/transactions", nil)
		r = r.WithContext(context.WithValue(r.Context(), ContextAccountNumber, account))
		w := httptest.NewRecorder()

		service.ListTransactions(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var items []map[string]any
		json.Unmarshal(w.Body.Bytes(), &items)
		require.Len(t, items, 1)
		assert.Equal(t, "DEBIT", items[0]["type"])
		assert.Equal(t, 300.00, items[0]["amount"])
		assert.Equal(t, "Alice Kumar", items[0]["from"])
		assert.Equal(t, "Bob Singh", items[0]["to"])
	})

	t.Run("unauthenticated request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/transactions", nil)
		w := httptest.NewRecorder()

		service.ListTransactions(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
