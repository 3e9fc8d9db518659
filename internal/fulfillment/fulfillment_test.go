package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	dbutil "github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/inventory"
	"github.com/watchlistpro/cardstore/internal/lock"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:fulfillment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	settings.Replace(time.Time{}, nil)
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Email: email, Username: email, Password: "x", EmailVerified: true}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func seedCards(t *testing.T, conn *gorm.DB, prefix string, n int) {
	t.Helper()
	if n == 0 {
		return
	}
	inputs := make([]inventory.CardInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, inventory.CardInput{BatchID: "b", Product: "WP", CardNo: fmt.Sprintf("%s-%03d", prefix, i), Password: "pw"})
	}
	if _, err := inventory.CreateBatch(context.Background(), conn, inputs); err != nil {
		t.Fatalf("seed cards: %v", err)
	}
}

func seedPayment(t *testing.T, conn *gorm.DB, userID uint64, orderID, productCode string) models.Payment {
	t.Helper()
	payment := models.Payment{
		UserID:      userID,
		Provider:    models.ProviderPayFast,
		OrderID:     orderID,
		Amount:      10000,
		Currency:    "ZAR",
		ProductCode: productCode,
		Status:      models.PaymentStatusCreated,
	}
	if errCreate := conn.Create(&payment).Error; errCreate != nil {
		t.Fatalf("create payment: %v", errCreate)
	}
	return payment
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
	cards int
}

func (n *recordingNotifier) PurchaseCompleted(_ context.Context, _ models.User, _ models.Payment, cards []models.Card) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.cards += len(cards)
}

func TestSucceedAllocatesProductCards(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, "buyer@example.com")
	seedCards(t, conn, "C", 7)
	payment := seedPayment(t, conn, user.ID, "ord-1", "WP002")
	notifier := &recordingNotifier{}
	r := NewReconciler(conn, lock.NewLocalLocker(), notifier)

	res, err := r.Succeed(context.Background(), Ref{Provider: models.ProviderPayFast, OrderID: "ord-1"}, Outcome{
		ProviderPaymentID: "pf-1",
		Metadata:          map[string]any{"mode": "live"},
	})
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if len(res.Cards) != 5 || res.Shortfall != 0 || res.Replayed {
		t.Fatalf("result = %d cards, shortfall %d, replayed %v", len(res.Cards), res.Shortfall, res.Replayed)
	}
	if res.Payment.Status != models.PaymentStatusSucceeded || res.Payment.ProviderPaymentID != "pf-1" || res.Payment.CardsAllocated != 5 {
		t.Fatalf("payment = %+v", res.Payment)
	}
	var sold int64
	conn.Model(&models.Card{}).Where("status = ? AND purchased_by_id = ? AND payment_id = ?", models.CardStatusSold, user.ID, payment.ID).Count(&sold)
	if sold != 5 {
		t.Fatalf("sold cards = %d, want 5", sold)
	}
	if notifier.calls != 1 || notifier.cards != 5 {
		t.Fatalf("notifier calls=%d cards=%d", notifier.calls, notifier.cards)
	}
}

func TestSucceedRecordsShortfallAndIncrements(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, "buyer@example.com")
	seedCards(t, conn, "C", 3)
	seedPayment(t, conn, user.ID, "ord-1", "WP002")
	seedPayment(t, conn, user.ID, "ord-2", "WP001")
	r := NewReconciler(conn, nil, nil)
	ctx := context.Background()

	res, err := r.Succeed(ctx, Ref{OrderID: "ord-1"}, Outcome{})
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if len(res.Cards) != 3 || res.Shortfall != 2 || res.Payment.CardsOwed != 2 {
		t.Fatalf("first result: cards=%d shortfall=%d", len(res.Cards), res.Shortfall)
	}

	res, err = r.Succeed(ctx, Ref{OrderID: "ord-2"}, Outcome{})
	if err != nil {
		t.Fatalf("second succeed: %v", err)
	}
	if len(res.Cards) != 0 || res.Shortfall != 1 {
		t.Fatalf("second result: cards=%d shortfall=%d", len(res.Cards), res.Shortfall)
	}

	var owed []models.CardOwed
	conn.Where("owed_to_id = ?", user.ID).Find(&owed)
	if len(owed) != 1 || owed[0].NumberOfCards != 3 {
		t.Fatalf("owed = %+v, want a single record of 3", owed)
	}
}

func TestSucceedReplayIsNoop(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, "buyer@example.com")
	seedCards(t, conn, "C", 10)
	seedPayment(t, conn, user.ID, "ord-1", "WP002")
	notifier := &recordingNotifier{}
	r := NewReconciler(conn, nil, notifier)
	ctx := context.Background()

	first, err := r.Succeed(ctx, Ref{OrderID: "ord-1"}, Outcome{})
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	replay, err := r.Succeed(ctx, Ref{OrderID: "ord-1"}, Outcome{})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed || len(replay.Cards) != len(first.Cards) {
		t.Fatalf("replay = %+v", replay)
	}
	var sold int64
	conn.Model(&models.Card{}).Where("status = ?", models.CardStatusSold).Count(&sold)
	if sold != 5 {
		t.Fatalf("sold after replay = %d, want 5", sold)
	}
	if notifier.calls != 1 {
		t.Fatalf("receipt sent %d times", notifier.calls)
	}
}

func TestFailTransitions(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, "buyer@example.com")
	seedPayment(t, conn, user.ID, "ord-1", "WP001")
	seedPayment(t, conn, user.ID, "ord-2", "WP001")
	r := NewReconciler(conn, nil, nil)
	ctx := context.Background()

	failed, err := r.Fail(ctx, Ref{OrderID: "ord-1"}, models.PaymentStatusFailed, "card declined")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != models.PaymentStatusFailed || failed.ErrorMessage != "card declined" {
		t.Fatalf("failed payment = %+v", failed)
	}
	seedCards(t, conn, "L", 1)
	_, err = r.Succeed(ctx, Ref{OrderID: "ord-1"}, Outcome{ProviderPaymentID: "pf-late"})
	if !errors.Is(err, ErrInvalidTransition) || !errors.Is(err, ErrPaidAfterClose) {
		t.Fatalf("succeed after fail err = %v", err)
	}
	var closed models.Payment
	conn.Where("order_id = ?", "ord-1").First(&closed)
	if closed.Status != models.PaymentStatusFailed || !strings.Contains(closed.ErrorMessage, "manual reconciliation") {
		t.Fatalf("closed payment = %+v", closed)
	}
	if !strings.Contains(string(closed.Metadata), `"providerPaymentId":"pf-late"`) || closed.CardsAllocated != 0 {
		t.Fatalf("late success not recorded: %s", closed.Metadata)
	}
	var available int64
	conn.Model(&models.Card{}).Where("status = ?", models.CardStatusCreated).Count(&available)
	if available != 1 {
		t.Fatalf("late success must not allocate, available = %d", available)
	}

	seedCards(t, conn, "C", 1)
	if _, err = r.Succeed(ctx, Ref{OrderID: "ord-2"}, Outcome{}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if _, err = r.Fail(ctx, Ref{OrderID: "ord-2"}, models.PaymentStatusCancelled, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after success err = %v", err)
	}
	if _, err = r.Succeed(ctx, Ref{OrderID: "missing"}, Outcome{}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestConcurrentSucceedNeverDoubleAllocates(t *testing.T) {
	conn := openTestDB(t)
	seedCards(t, conn, "C", 5)
	r := NewReconciler(conn, lock.NewLocalLocker(), nil)

	const buyers = 4
	users := make([]models.User, buyers)
	for i := range users {
		users[i] = seedUser(t, conn, fmt.Sprintf("b%d@example.com", i))
		seedPayment(t, conn, users[i].ID, fmt.Sprintf("ord-%d", i), "WP002")
	}

	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Succeed(context.Background(), Ref{OrderID: fmt.Sprintf("ord-%d", i)}, Outcome{}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("succeed: %v", err)
	}

	var sold int64
	conn.Model(&models.Card{}).Where("status = ?", models.CardStatusSold).Count(&sold)
	if sold != 5 {
		t.Fatalf("sold = %d, want 5", sold)
	}
	var owedTotal int64
	conn.Model(&models.CardOwed{}).Select("COALESCE(SUM(number_of_cards), 0)").Scan(&owedTotal)
	if owedTotal != buyers*5-5 {
		t.Fatalf("owed total = %d, want %d", owedTotal, buyers*5-5)
	}
}

func TestMergeMetadata(t *testing.T) {
	merged, err := mergeMetadata([]byte(`{"orderId":"ord-1"}`), map[string]any{"mode": "test", "skip": nil})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if string(merged) != `{"mode":"test","orderId":"ord-1"}` {
		t.Fatalf("merged = %s", merged)
	}
}
