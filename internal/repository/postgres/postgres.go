package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/repository"
)

type slotRepository struct {
	BaseRepository
}

type appointmentRepository struct {
	db *sqlx.DB
}

type messageRepository struct {
	db *sqlx.DB
}

type outboxRepository struct {
	BaseRepository
}

func NewSlotRepository(db *sqlx.DB) repository.SlotRepository {
	return &slotRepository{NewBaseRepository(db)}
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{db: db}
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}
