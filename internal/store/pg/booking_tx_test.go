package pg

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

// These tests run against a real, migrated database; set
// TEST_POSTGRES_DSN to enable them.
func testDB(t *testing.T) *PGBookingConfirmer {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := OpenDB(dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGBookingConfirmer(db)
}

func seedPendingLink(t *testing.T, confirmer *PGBookingConfirmer, phone string) *model.BookingLink {
	t.Helper()
	link := &model.BookingLink{
		Token:        uuid.NewString()[:12],
		PatientPhone: phone,
		Status:       model.LinkPending,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	links := NewPGBookingLinkStore(confirmer.db)
	if err := links.Create(context.Background(), link); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		confirmer.db.ExecContext(ctx, `DELETE FROM booking_links WHERE id = $1`, link.ID)
		confirmer.db.ExecContext(ctx, `DELETE FROM appointments WHERE conversation_id IS NULL AND patient_id IN (SELECT id FROM patients WHERE phone = $1)`, phone)
		confirmer.db.ExecContext(ctx, `DELETE FROM patients WHERE phone = $1`, phone)
	})
	return link
}

func confirmParams(token string) store.ConfirmBookingParams {
	return store.ConfirmBookingParams{
		Token:       token,
		PatientName: "Maria Souza",
		SlotAt:      time.Now().Add(48 * time.Hour).Truncate(time.Minute),
		Now:         time.Now(),
	}
}

func TestConfirmBookingSecondConfirmSeesUsedLink(t *testing.T) {
	confirmer := testDB(t)
	link := seedPendingLink(t, confirmer, "5511900001111")

	first, err := confirmer.ConfirmBooking(context.Background(), confirmParams(link.Token))
	if err != nil {
		t.Fatal(err)
	}
	if first.Outcome != store.ConfirmOK {
		t.Fatalf("first confirm = %s", first.Outcome)
	}

	second, err := confirmer.ConfirmBooking(context.Background(), confirmParams(link.Token))
	if err != nil {
		t.Fatal(err)
	}
	if second.Outcome != store.ConfirmUsed {
		t.Fatalf("second confirm = %s, want used", second.Outcome)
	}
	if second.Appointment != nil {
		t.Error("used link must not book again")
	}
}

func TestConfirmBookingConcurrentConfirmsSerialize(t *testing.T) {
	confirmer := testDB(t)
	link := seedPendingLink(t, confirmer, "5511900002222")

	var wg sync.WaitGroup
	outcomes := make([]store.ConfirmOutcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := confirmer.ConfirmBooking(context.Background(), confirmParams(link.Token))
			if err != nil {
				errs[i] = err
				return
			}
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	won, lost := 0, 0
	for _, o := range outcomes {
		switch o {
		case store.ConfirmOK:
			won++
		case store.ConfirmUsed:
			lost++
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("outcomes = %v, want exactly one booking and one used", outcomes)
	}

	var count int
	row := confirmer.db.QueryRowContext(context.Background(),
		`SELECT count(*) FROM appointments a
		 JOIN booking_links l ON l.appointment_id = a.id
		 WHERE l.token = $1`, link.Token)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("appointments for the link = %d", count)
	}
}
