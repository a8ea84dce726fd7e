package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/tap2-payments/tap2-wallet/internal/handlers/middleware"
	"github.com/tap2-payments/tap2-wallet/internal/idempotency"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
	"github.com/tap2-payments/tap2-wallet/internal/nonce"
	"github.com/tap2-payments/tap2-wallet/internal/repository/postgres"
	"github.com/tap2-payments/tap2-wallet/internal/service/payment"
	"github.com/tap2-payments/tap2-wallet/internal/service/qrtoken"
	"github.com/tap2-payments/tap2-wallet/internal/service/rewards"
	"github.com/tap2-payments/tap2-wallet/internal/service/wallet"
	"github.com/tap2-payments/tap2-wallet/internal/testutil"
)

func Test_Router(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Run http server with production services wired over a rolled-back tx
	withServer := func(t *testing.T, fn func(url string)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			qrManager, err := qrtoken.New(qrtoken.Config{SecretKey: "test-secret"})
			require.NoError(t, err, "qr manager should be created without errors")

			rewardsService := rewards.NewService(storage, nil)
			paymentService := payment.NewProcessor(storage, idempotency.NewPostgresGuard(tx), nonce.NewPostgresRegistry(tx), rewardsService, nil)
			walletService := wallet.NewService(storage)

			mux := NewRouter(walletService, paymentService, rewardsService, qrManager, logger.NewNoOpLogger())
			srv := httptest.NewServer(mux)
			defer srv.Close()

			fn(srv.URL)
		})
	}

	do := func(t *testing.T, method, url string, userID *uuid.UUID, body string) (*http.Response, string) {
		t.Helper()

		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, url, reader)
		require.NoError(t, err)
		if userID != nil {
			req.Header.Set(middleware.UserIDHeader, userID.String())
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		return resp, string(respBody)
	}

	createAccount := func(t *testing.T, url string, userID uuid.UUID) {
		t.Helper()
		resp, body := do(t, http.MethodPost, url+"/api/accounts", &userID, `{}`)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "account should be created. Body: %s", body)
	}

	fund := func(t *testing.T, url string, userID uuid.UUID, amountMinor int64) {
		t.Helper()
		resp, body := do(t, http.MethodPost, url+"/api/wallet/fund", &userID, fmt.Sprintf(`{"amount_minor": %d}`, amountMinor))
		require.Equalf(t, http.StatusOK, resp.StatusCode, "funding should pass. Body: %s", body)
	}

	t.Run("identity required", func(t *testing.T) {
		withServer(t, func(url string) {
			resp, _ := do(t, http.MethodGet, url+"/api/wallet/balance", nil, "")

			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	})

	t.Run("account lifecycle", func(t *testing.T) {
		withServer(t, func(url string) {
			userID := uuid.New()

			resp, body := do(t, http.MethodPost, url+"/api/accounts", &userID, `{"currency": "USD"}`)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "unexpected status. Body: %s", body)

			resp, _ = do(t, http.MethodPost, url+"/api/accounts", &userID, `{"currency": "USD"}`)
			require.Equal(t, http.StatusConflict, resp.StatusCode, "second account for one owner must conflict")

			resp, body = do(t, http.MethodGet, url+"/api/wallet/balance", &userID, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var balance struct {
				BalanceMinor int64  `json:"balance_minor"`
				Currency     string `json:"currency"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &balance))
			require.Equal(t, int64(0), balance.BalanceMinor)
			require.Equal(t, "USD", balance.Currency)
		})
	})

	t.Run("transfer flow", func(t *testing.T) {
		withServer(t, func(url string) {
			alice, bob := uuid.New(), uuid.New()
			createAccount(t, url, alice)
			createAccount(t, url, bob)
			fund(t, url, alice, 50_00)

			transferBody := fmt.Sprintf(`{"recipient_id": %q, "amount_minor": 2000}`, bob)

			req, err := http.NewRequest(http.MethodPost, url+"/api/transfers", strings.NewReader(transferBody))
			require.NoError(t, err)
			req.Header.Set(middleware.UserIDHeader, alice.String())
			req.Header.Set(IdempotencyKeyHeader, "K1")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			defer resp.Body.Close() // nolint:errcheck

			require.Equalf(t, http.StatusOK, resp.StatusCode, "transfer should pass. Body: %s", string(body))

			var result struct {
				SenderBalanceMinor    int64 `json:"sender_balance_minor"`
				RecipientBalanceMinor int64 `json:"recipient_balance_minor"`
				Replayed              bool  `json:"replayed"`
			}
			require.NoError(t, json.Unmarshal(body, &result))
			require.Equal(t, int64(30_00), result.SenderBalanceMinor)
			require.Equal(t, int64(20_00), result.RecipientBalanceMinor)
			require.False(t, result.Replayed)

			t.Run("retry replays", func(t *testing.T) {
				req, err := http.NewRequest(http.MethodPost, url+"/api/transfers", strings.NewReader(transferBody))
				require.NoError(t, err)
				req.Header.Set(middleware.UserIDHeader, alice.String())
				req.Header.Set(IdempotencyKeyHeader, "K1")

				resp, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				defer resp.Body.Close() // nolint:errcheck

				require.Equal(t, http.StatusOK, resp.StatusCode)
				require.NoError(t, json.Unmarshal(body, &result))
				require.True(t, result.Replayed, "retried request must be marked replayed")
				require.Equal(t, int64(30_00), result.SenderBalanceMinor, "retry must not move money again")
			})

			t.Run("insufficient funds", func(t *testing.T) {
				resp, _ := do(t, http.MethodPost, url+"/api/transfers", &alice,
					fmt.Sprintf(`{"recipient_id": %q, "amount_minor": 1000000}`, bob))

				require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
			})

			t.Run("unknown recipient", func(t *testing.T) {
				resp, _ := do(t, http.MethodPost, url+"/api/transfers", &alice,
					fmt.Sprintf(`{"recipient_id": %q, "amount_minor": 100}`, uuid.New()))

				require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			})

			t.Run("transaction history", func(t *testing.T) {
				resp, body := do(t, http.MethodGet, url+"/api/wallet/transactions?kind=p2p", &alice, "")

				require.Equal(t, http.StatusOK, resp.StatusCode)

				var listed []struct {
					Kind        string `json:"kind"`
					AmountMinor int64  `json:"amount_minor"`
				}
				require.NoError(t, json.Unmarshal([]byte(body), &listed))
				require.Len(t, listed, 1)
				require.Equal(t, int64(-20_00), listed[0].AmountMinor, "sender sees the debit leg")
			})
		})
	})

	t.Run("qr payment flow", func(t *testing.T) {
		withServer(t, func(url string) {
			payer, merchant := uuid.New(), uuid.New()
			createAccount(t, url, payer)
			createAccount(t, url, merchant)
			fund(t, url, payer, 50_00)

			// Merchant displays the code for $25 + $5 tip
			resp, body := do(t, http.MethodPost, url+"/api/merchant/qr", &merchant, `{"amount_minor": 2500, "tip_minor": 500}`)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "qr mint should pass. Body: %s", body)

			var minted struct {
				Token string `json:"token"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &minted))
			require.NotEmpty(t, minted.Token)

			t.Run("qr image", func(t *testing.T) {
				resp, body := do(t, http.MethodGet, url+"/api/merchant/qr/png?token="+minted.Token, nil, "")

				require.Equal(t, http.StatusOK, resp.StatusCode)
				require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
				require.NotEmpty(t, body)
			})

			payBody := fmt.Sprintf(`{"qr_token": %q}`, minted.Token)

			t.Run("merchant cannot pay own code", func(t *testing.T) {
				resp, _ := do(t, http.MethodPost, url+"/api/payments", &merchant, payBody)

				require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "self-payment must be rejected")
			})

			resp, body = do(t, http.MethodPost, url+"/api/payments", &payer, payBody)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "payment should pass. Body: %s", body)

			var paid struct {
				PaymentID         string `json:"payment_id"`
				TotalMinor        int64  `json:"total_minor"`
				PayerBalanceMinor int64  `json:"payer_balance_minor"`
				PointsEarned      int64  `json:"points_earned"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &paid))
			require.Equal(t, int64(30_00), paid.TotalMinor)
			require.Equal(t, int64(20_00), paid.PayerBalanceMinor)
			require.Equal(t, int64(2500), paid.PointsEarned, "points accrue on base amount only")

			t.Run("scanning twice is a replay", func(t *testing.T) {
				resp, _ := do(t, http.MethodPost, url+"/api/payments", &payer, payBody)

				require.Equal(t, http.StatusConflict, resp.StatusCode, "second scan of one code must conflict")
			})

			t.Run("payment status", func(t *testing.T) {
				resp, body := do(t, http.MethodGet, url+"/api/payments/"+paid.PaymentID, nil, "")

				require.Equal(t, http.StatusOK, resp.StatusCode)
				require.JSONEq(t, fmt.Sprintf(`{"id": %q, "kind": "merchant_payment", "status": "completed"}`, paid.PaymentID), body)
			})

			t.Run("refund more than refundable", func(t *testing.T) {
				resp, _ := do(t, http.MethodPost, url+"/api/payments/"+paid.PaymentID+"/refund", &merchant, `{"partial_amount_minor": 3001}`)

				require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			})

			t.Run("payer cannot refund", func(t *testing.T) {
				resp, _ := do(t, http.MethodPost, url+"/api/payments/"+paid.PaymentID+"/refund", &payer, `{}`)

				require.Equal(t, http.StatusNotFound, resp.StatusCode, "refund is merchant-only")
			})

			t.Run("full refund", func(t *testing.T) {
				resp, body := do(t, http.MethodPost, url+"/api/payments/"+paid.PaymentID+"/refund", &merchant, `{"reason": "returned goods"}`)

				require.Equalf(t, http.StatusOK, resp.StatusCode, "refund should pass. Body: %s", body)

				var refunded struct {
					RefundedMinor     int64 `json:"refunded_minor"`
					PayerBalanceMinor int64 `json:"payer_balance_minor"`
				}
				require.NoError(t, json.Unmarshal([]byte(body), &refunded))
				require.Equal(t, int64(30_00), refunded.RefundedMinor)
				require.Equal(t, int64(50_00), refunded.PayerBalanceMinor)
			})

			t.Run("rewards balance and redeem", func(t *testing.T) {
				resp, body := do(t, http.MethodGet, url+"/api/rewards/balance", &payer, "")

				require.Equal(t, http.StatusOK, resp.StatusCode)
				require.JSONEq(t, `{"total": 2500, "expiring_soon": 0}`, body)

				resp, body = do(t, http.MethodPost, url+"/api/rewards/redeem", &payer, `{"discount_dollars": "10"}`)
				require.Equalf(t, http.StatusOK, resp.StatusCode, "redeem should pass. Body: %s", body)

				var redeemed struct {
					PointsRedeemed  int64 `json:"points_redeemed"`
					RemainingPoints int64 `json:"remaining_points"`
				}
				require.NoError(t, json.Unmarshal([]byte(body), &redeemed))
				require.Equal(t, int64(1000), redeemed.PointsRedeemed)
				require.Equal(t, int64(1500), redeemed.RemainingPoints)

				resp, _ = do(t, http.MethodPost, url+"/api/rewards/redeem", &payer, `{"discount_dollars": "100"}`)
				require.Equal(t, http.StatusPaymentRequired, resp.StatusCode, "redeeming more than owned must fail")
			})
		})
	})

	t.Run("fee quote is public", func(t *testing.T) {
		withServer(t, func(url string) {
			resp, body := do(t, http.MethodGet, url+"/api/fees/quote?amount_minor=10000&fee_type=instant_cashout", nil, "")

			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.JSONEq(t, `{"amount_minor": 10000, "fee_type": "instant_cashout", "fee_minor": 150}`, body)
		})
	})

	t.Run("withdraw flow", func(t *testing.T) {
		withServer(t, func(url string) {
			userID := uuid.New()
			createAccount(t, url, userID)
			fund(t, url, userID, 100_00)

			resp, body := do(t, http.MethodPost, url+"/api/wallet/withdraw", &userID, `{"amount_minor": 10000, "instant": true}`)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "withdraw should pass. Body: %s", body)

			var result struct {
				FeeMinor     int64 `json:"fee_minor"`
				PayoutMinor  int64 `json:"payout_minor"`
				BalanceMinor int64 `json:"balance_minor"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &result))
			require.Equal(t, int64(1_50), result.FeeMinor)
			require.Equal(t, int64(98_50), result.PayoutMinor)
			require.Equal(t, int64(0), result.BalanceMinor)
		})
	})
}
