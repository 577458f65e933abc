package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/service/slot"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/lock"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

var errStore = errors.New("store unavailable")

// flakyRepo fails writes on demand.
type flakyRepo struct {
	repository.AppointmentRepository
	failCreate bool
	failUpdate bool
	failDelete bool
}

func (r *flakyRepo) Create(ctx context.Context, a *model.Appointment) error {
	if r.failCreate {
		return errStore
	}
	return r.AppointmentRepository.Create(ctx, a)
}

func (r *flakyRepo) Update(ctx context.Context, a *model.Appointment) error {
	if r.failUpdate {
		return errStore
	}
	return r.AppointmentRepository.Update(ctx, a)
}

func (r *flakyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if r.failDelete {
		return errStore
	}
	return r.AppointmentRepository.Delete(ctx, id)
}

type brokenOutbox struct {
	repository.OutboxRepository
}

func (brokenOutbox) Create(context.Context, *model.OutboxEvent) error {
	return errStore
}

type fixture struct {
	svc    *Service
	slots  *slot.Service
	store  repository.SlotRepository
	repo   *flakyRepo
	outbox repository.OutboxRepository
	doctor uuid.UUID
}

const day = "2025-04-01"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Nop()
	m := metrics.NewNop()
	locker := lock.NewLocalLocker()

	store := memory.NewSlotRepository()
	slots := slot.NewService(store, locker, log, m)
	repo := &flakyRepo{AppointmentRepository: memory.NewAppointmentRepository()}
	outbox := memory.NewOutboxRepository()

	f := &fixture{
		svc:    NewService(repo, slots, locker, event.NewService(outbox, log), log, m),
		slots:  slots,
		store:  store,
		repo:   repo,
		outbox: outbox,
		doctor: uuid.New(),
	}

	_, err := slots.AddSlots(context.Background(), f.doctor, []model.SlotEntry{
		{Date: day, StartTime: "09:00", EndTime: "09:30"},
		{Date: day, StartTime: "10:00", EndTime: "10:30"},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) book(t *testing.T, patient uuid.UUID, at string) *model.Appointment {
	t.Helper()
	apt, err := f.svc.Create(context.Background(), &model.CreateAppointmentRequest{
		PatientID:        patient,
		DoctorID:         f.doctor,
		Date:             day,
		Time:             at,
		ConsultationType: model.ConsultationVideo,
	})
	require.NoError(t, err)
	return apt
}

func (f *fixture) slotAt(t *testing.T, at string) *model.AvailabilitySlot {
	t.Helper()
	slots, err := f.store.List(context.Background(), &model.SlotFilters{DoctorID: f.doctor, Date: day})
	require.NoError(t, err)
	for _, s := range slots {
		if s.StartTime == at {
			return s
		}
	}
	t.Fatalf("no slot at %s", at)
	return nil
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New(), "09:00")

	assert.Equal(t, model.AppointmentStatusPending, apt.Status)
	assert.Equal(t, model.PriorityMedium, apt.Priority)
	assert.Equal(t, "09:30", apt.EndTime)
	assert.Empty(t, apt.RescheduleHistory)

	s := f.slotAt(t, "09:00")
	assert.True(t, s.IsBooked)
	require.NotNil(t, s.AppointmentID)
	assert.Equal(t, apt.ID, *s.AppointmentID)

	events := memory.Events(f.outbox)
	require.Len(t, events, 1)
	assert.Equal(t, string(event.AppointmentCreated), events[0].EventType)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &model.CreateAppointmentRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, Date: "04/01/2025", Time: "09:00",
		ConsultationType: model.ConsultationVideo,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = f.svc.Create(ctx, &model.CreateAppointmentRequest{
		DoctorID: f.doctor, Date: day, Time: "09:00", ConsultationType: model.ConsultationPhone,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = f.svc.Create(ctx, &model.CreateAppointmentRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, Date: day, Time: "09:00",
		ConsultationType: "carrier-pigeon",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	assert.False(t, f.slotAt(t, "09:00").IsBooked)
}

func TestCreate_SlotErrorsWriteNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, uuid.New(), "09:00")

	_, err := f.svc.Create(ctx, &model.CreateAppointmentRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, Date: day, Time: "09:00",
		ConsultationType: model.ConsultationVideo,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotAlreadyBooked))

	_, err = f.svc.Create(ctx, &model.CreateAppointmentRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, Date: day, Time: "15:00",
		ConsultationType: model.ConsultationVideo,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotNotFound))

	all, err := f.svc.List(ctx, &model.AppointmentFilters{DoctorID: f.doctor})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_FailedInsertReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.repo.failCreate = true

	_, err := f.svc.Create(context.Background(), &model.CreateAppointmentRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, Date: day, Time: "09:00",
		ConsultationType: model.ConsultationVideo,
	})
	require.ErrorIs(t, err, errStore)

	s := f.slotAt(t, "09:00")
	assert.False(t, s.IsBooked)
	assert.Nil(t, s.AppointmentID)
}

func TestTransition_EdgeTable(t *testing.T) {
	statuses := []model.AppointmentStatus{
		model.AppointmentStatusPending,
		model.AppointmentStatusConfirmed,
		model.AppointmentStatusCompleted,
		model.AppointmentStatusCancelled,
	}
	// path from pending to each start state
	paths := map[model.AppointmentStatus][]model.AppointmentStatus{
		model.AppointmentStatusPending:   nil,
		model.AppointmentStatusConfirmed: {model.AppointmentStatusConfirmed},
		model.AppointmentStatusCompleted: {model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted},
		model.AppointmentStatusCancelled: {model.AppointmentStatusCancelled},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()
				apt := f.book(t, uuid.New(), "09:00")
				for _, step := range paths[from] {
					_, err := f.svc.Transition(ctx, apt.ID, step)
					require.NoError(t, err)
				}

				got, err := f.svc.Transition(ctx, apt.ID, to)
				if model.CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
					return
				}

				require.Error(t, err)
				appErr, ok := apperrors.As(err)
				require.True(t, ok)
				assert.Equal(t, apperrors.ErrInvalidTransition, appErr.Code)
				assert.Equal(t, string(from), appErr.Details["current"])
				assert.Equal(t, string(to), appErr.Details["requested"])

				stored, err := f.svc.Get(ctx, apt.ID)
				require.NoError(t, err)
				assert.Equal(t, from, stored.Status)
			})
		}
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New(), "09:00")
	_, err := f.svc.Transition(context.Background(), apt.ID, "archived")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), uuid.New(), model.AppointmentStatusConfirmed)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestTransition_CancelReleasesSlot(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New(), "09:00")

	got, err := f.svc.Transition(context.Background(), apt.ID, model.AppointmentStatusCancelled)
	require.NoError(t, err)
	assert.Nil(t, got.CancellationReason)
	assert.False(t, f.slotAt(t, "09:00").IsBooked)
}

func TestTransition_CompletedKeepsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New(), "09:00")

	_, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, apt.ID, model.AppointmentStatusCompleted)
	require.NoError(t, err)
	assert.True(t, f.slotAt(t, "09:00").IsBooked)
}

func TestReschedule_InvalidState(t *testing.T) {
	for _, path := range [][]model.AppointmentStatus{
		nil,
		{model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted},
		{model.AppointmentStatusCancelled},
	} {
		f := newFixture(t)
		ctx := context.Background()
		apt := f.book(t, uuid.New(), "09:00")
		for _, step := range path {
			_, err := f.svc.Transition(ctx, apt.ID, step)
			require.NoError(t, err)
		}

		_, err := f.svc.Reschedule(ctx, apt.ID, &model.RescheduleRequest{Date: day, Time: "10:00"})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState), "from %v", path)
		assert.False(t, f.slotAt(t, "10:00").IsBooked)
	}
}

func TestReschedule_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New(), "09:00")
	_, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
	require.NoError(t, err)

	got, err := f.svc.Reschedule(ctx, apt.ID, &model.RescheduleRequest{Date: day, Time: "10:00", EndTime: "10:30"})
	require.NoError(t, err)

	assert.Equal(t, "10:00", got.Time)
	assert.Equal(t, "10:30", got.EndTime)
	require.Len(t, got.RescheduleHistory, 1)
	assert.Equal(t, day, got.RescheduleHistory[0].PreviousDate)
	assert.Equal(t, "09:00", got.RescheduleHistory[0].PreviousTime)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	assert.False(t, f.slotAt(t, "09:00").IsBooked)
	assert.True(t, f.slotAt(t, "10:00").IsBooked)
}

func TestReschedule_SlotErrorLeavesAppointmentUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New(), "09:00")
	f.book(t, uuid.New(), "10:00")
	_, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, apt.ID, &model.RescheduleRequest{Date: day, Time: "10:00"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotAlreadyBooked))

	stored, err := f.svc.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:00", stored.Time)
	assert.Empty(t, stored.RescheduleHistory)
	assert.True(t, f.slotAt(t, "09:00").IsBooked)
}

func TestReschedule_FailedWriteRestoresSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New(), "09:00")
	_, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
	require.NoError(t, err)

	f.repo.failUpdate = true
	_, err = f.svc.Reschedule(ctx, apt.ID, &model.RescheduleRequest{Date: day, Time: "10:00"})
	require.ErrorIs(t, err, errStore)

	old := f.slotAt(t, "09:00")
	assert.True(t, old.IsBooked)
	require.NotNil(t, old.AppointmentID)
	assert.Equal(t, apt.ID, *old.AppointmentID)
	assert.False(t, f.slotAt(t, "10:00").IsBooked)
}

func TestCancel(t *testing.T) {
	for _, confirmFirst := range []bool{false, true} {
		f := newFixture(t)
		ctx := context.Background()
		apt := f.book(t, uuid.New(), "09:00")
		if confirmFirst {
			_, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
			require.NoError(t, err)
		}

		got, err := f.svc.Cancel(ctx, apt.ID, "  feeling better ")
		require.NoError(t, err)
		assert.Equal(t, model.AppointmentStatusCancelled, got.Status)
		require.NotNil(t, got.CancellationReason)
		assert.Equal(t, "feeling better", *got.CancellationReason)
		assert.False(t, f.slotAt(t, "09:00").IsBooked)

		_, err = f.svc.Cancel(ctx, apt.ID, "again")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
	}
}

func TestReschedule_RacingCancel(t *testing.T) {
	for i := 0; i < 100; i++ {
		f := newFixture(t)
		ctx := context.Background()
		apt := f.book(t, uuid.New(), "09:00")
		_, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var rescheduleErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, rescheduleErr = f.svc.Reschedule(ctx, apt.ID, &model.RescheduleRequest{Date: day, Time: "10:00"})
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.svc.Cancel(ctx, apt.ID, "conflict")
		}()
		wg.Wait()

		// whichever runs second sees the first one's result
		require.NoError(t, cancelErr)
		if rescheduleErr != nil {
			assert.True(t, apperrors.IsCode(rescheduleErr, apperrors.ErrInvalidState), "got %v", rescheduleErr)
		}

		got, err := f.svc.Get(ctx, apt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AppointmentStatusCancelled, got.Status)
		assert.False(t, f.slotAt(t, "09:00").IsBooked)
		assert.False(t, f.slotAt(t, "10:00").IsBooked)
	}
}

func TestEmitFailureKeepsCommittedChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.events = event.NewService(brokenOutbox{memory.NewOutboxRepository()}, logger.Nop())

	apt := f.book(t, uuid.New(), "09:00")
	got, err := f.svc.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	stored, err := f.svc.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, stored.Status)
	assert.True(t, f.slotAt(t, "09:00").IsBooked)
	assert.Empty(t, memory.Events(f.outbox))
}

func TestCancel_RequiresReason(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New(), "09:00")

	_, err := f.svc.Cancel(context.Background(), apt.ID, "   ")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
	assert.True(t, f.slotAt(t, "09:00").IsBooked)
}

func TestCancel_FailedWriteRestoresSlot(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New(), "09:00")
	f.repo.failUpdate = true

	_, err := f.svc.Cancel(context.Background(), apt.ID, "conflict")
	require.ErrorIs(t, err, errStore)
	assert.True(t, f.slotAt(t, "09:00").IsBooked)

	f.repo.failUpdate = false
	stored, err := f.svc.Get(context.Background(), apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, stored.Status)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, uuid.New(), "09:00")

	require.NoError(t, f.svc.Delete(ctx, apt.ID))
	assert.False(t, f.slotAt(t, "09:00").IsBooked)

	_, err := f.svc.Get(ctx, apt.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))

	err = f.svc.Delete(ctx, apt.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestDelete_FailedDeleteRestoresSlot(t *testing.T) {
	f := newFixture(t)
	apt := f.book(t, uuid.New(), "09:00")
	f.repo.failDelete = true

	err := f.svc.Delete(context.Background(), apt.ID)
	require.ErrorIs(t, err, errStore)
	assert.True(t, f.slotAt(t, "09:00").IsBooked)
}

func TestScenario_BookConfirmReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientA, patientB := uuid.New(), uuid.New()

	a := f.book(t, patientA, "09:00")
	assert.True(t, f.slotAt(t, "09:00").IsBooked)

	_, err := f.svc.Create(ctx, &model.CreateAppointmentRequest{
		PatientID: patientB, DoctorID: f.doctor, Date: day, Time: "09:00", EndTime: "09:30",
		ConsultationType: model.ConsultationVideo,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotAlreadyBooked))

	_, err = f.svc.Transition(ctx, a.ID, model.AppointmentStatusConfirmed)
	require.NoError(t, err)

	got, err := f.svc.Reschedule(ctx, a.ID, &model.RescheduleRequest{Date: day, Time: "10:00", EndTime: "10:30"})
	require.NoError(t, err)
	assert.Len(t, got.RescheduleHistory, 1)
	assert.False(t, f.slotAt(t, "09:00").IsBooked)
	assert.True(t, f.slotAt(t, "10:00").IsBooked)

	var types []string
	for _, e := range memory.Events(f.outbox) {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		string(event.AppointmentCreated),
		string(event.AppointmentConfirmed),
		string(event.AppointmentRescheduled),
	}, types)
}
