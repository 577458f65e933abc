// Package lock provides keyed mutual exclusion for slot and appointment mutations.
package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker serializes critical sections that share a key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func DoctorKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("doctor:%s", doctorID)
}

func AppointmentKey(appointmentID uuid.UUID) string {
	return fmt.Sprintf("appointment:%s", appointmentID)
}
