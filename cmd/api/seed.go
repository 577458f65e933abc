package main

import (
	"fmt"
	"io"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/app"
	"github.com/jwalitptl/clinic-api/internal/model"
	appointmentService "github.com/jwalitptl/clinic-api/internal/service/appointment"
	eventService "github.com/jwalitptl/clinic-api/internal/service/event"
	slotService "github.com/jwalitptl/clinic-api/internal/service/slot"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

var seedStartTimes = []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}

var seedSymptoms = []string{
	"persistent headache",
	"skin rash",
	"lower back pain",
	"seasonal allergies",
	"follow-up on blood work",
	"sore throat and fever",
}

type seedOptions struct {
	doctors  int
	patients int
	days     int
	seed     uint64
	tokenTTL time.Duration
}

func seedCmd(load configLoader) *cobra.Command {
	opts := seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish demo availability and book demo appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("seed requires storage.driver postgres, got %q", cfg.Storage.Driver)
			}
			log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

			gofakeit.Seed(opts.seed)

			ctx := cmd.Context()
			infra, err := app.NewInfra(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer infra.Close()

			m := metrics.NewMetrics(prometheus.NewRegistry(), "clinic")
			events := eventService.NewService(infra.Outbox, log)
			slots := slotService.NewService(infra.Slots, infra.Locker, log, m).WithEvents(events)
			appointments := appointmentService.NewService(infra.Appointments, slots, infra.Locker, events, log, m)
			tokens := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)

			out := cmd.OutOrStdout()
			first := time.Now().UTC().AddDate(0, 0, 1)

			doctors := make([]uuid.UUID, opts.doctors)
			for i := range doctors {
				doctors[i] = uuid.New()
				var entries []model.SlotEntry
				for d := 0; d < opts.days; d++ {
					date := first.AddDate(0, 0, d).Format(model.DateLayout)
					for _, start := range seedStartTimes {
						end, _ := time.Parse("15:04", start)
						entries = append(entries, model.SlotEntry{
							Date:      date,
							StartTime: start,
							EndTime:   end.Add(30 * time.Minute).Format("15:04"),
						})
					}
				}
				if _, err := slots.AddSlots(ctx, doctors[i], entries); err != nil {
					return fmt.Errorf("failed to publish slots: %w", err)
				}
				if err := printIdentity(out, tokens, model.RoleDoctor, doctors[i], opts.tokenTTL); err != nil {
					return err
				}
			}

			booked := 0
			for i := 0; i < opts.patients; i++ {
				patientID := uuid.New()
				if err := printIdentity(out, tokens, model.RolePatient, patientID, opts.tokenTTL); err != nil {
					return err
				}

				for n := gofakeit.Number(1, 2); n > 0; n-- {
					apt, err := appointments.Create(ctx, &model.CreateAppointmentRequest{
						PatientID:        patientID,
						DoctorID:         doctors[gofakeit.Number(0, len(doctors)-1)],
						Date:             first.AddDate(0, 0, gofakeit.Number(0, opts.days-1)).Format(model.DateLayout),
						Time:             gofakeit.RandomString(seedStartTimes),
						ConsultationType: model.ConsultationType(gofakeit.RandomString([]string{"video", "phone", "in-person"})),
						Symptoms:         gofakeit.RandomString(seedSymptoms),
					})
					if err != nil {
						// another demo patient already took the slot
						log.Debug("skipping booking", "error", err.Error())
						continue
					}
					booked++

					if gofakeit.Bool() {
						if _, err := appointments.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed); err != nil {
							return fmt.Errorf("failed to confirm appointment: %w", err)
						}
					}
				}
			}

			log.Info("seed complete",
				"doctors", opts.doctors,
				"patients", opts.patients,
				"appointments", booked)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.doctors, "doctors", 3, "number of demo doctors")
	cmd.Flags().IntVar(&opts.patients, "patients", 5, "number of demo patients")
	cmd.Flags().IntVar(&opts.days, "days", 5, "days of availability per doctor, starting tomorrow")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "faker seed, 0 picks a random one")
	cmd.Flags().DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed demo tokens")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.doctors < 1 || opts.days < 1 || opts.patients < 0 {
			return fmt.Errorf("doctors and days must be at least 1, patients must not be negative")
		}
		return nil
	}

	return cmd
}

func printIdentity(out io.Writer, tokens *auth.JWTService, role model.Role, id uuid.UUID, ttl time.Duration) error {
	token, err := tokens.Issue(model.Caller{ID: id, Role: role}, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintf(out, "%-8s %-24s %s\n  token: %s\n", role, gofakeit.Name(), id, token)
	return err
}
