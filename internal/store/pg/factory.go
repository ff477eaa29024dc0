package pg

import (
	"database/sql"

	"github.com/vitacare/concierge/internal/store"
)

// NewStores wires all Postgres-backed stores over one pool.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Patients:      NewPGPatientStore(db),
		Doctors:       NewPGDoctorStore(db),
		Services:      NewPGServiceStore(db),
		Appointments:  NewPGAppointmentStore(db),
		BookingLinks:  NewPGBookingLinkStore(db),
		Escalations:   NewPGEscalationStore(db),
		Conversations: NewPGConversationStore(db),
		Knowledge:     NewPGKnowledgeStore(db),
		BookingTx:     NewPGBookingConfirmer(db),
	}
}
