package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/clinic-keeper/internal/backend"
	"github.com/and161185/clinic-keeper/internal/config"
	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/seed"
	"github.com/and161185/clinic-keeper/internal/service"
)

const dayLayout = "2006-01-02"

// bindStorage registers the backend flags, each name prefixed with prefix.
func bindStorage(cmd *cobra.Command, prefix string, s *config.Storage) {
	def := config.Default().Storage
	f := cmd.Flags()
	f.StringVar(&s.Driver, prefix+"storage", def.Driver, "storage driver (file|sqlite|postgres|s3)")
	f.StringVar(&s.Path, prefix+"path", def.Path, "snapshot file or sqlite database")
	f.StringVar(&s.DSN, prefix+"dsn", os.Getenv(config.EnvDSN), "postgres DSN")
	f.IntVar(&s.Keep, prefix+"keep", def.Keep, "postgres versions kept (0 keeps all)")
	f.StringVar(&s.Passphrase, prefix+"passphrase", os.Getenv(config.EnvPassphrase), "seal snapshots with this passphrase")
	f.StringVar(&s.S3.Bucket, prefix+"s3-bucket", "", "s3 bucket")
	f.StringVar(&s.S3.Key, prefix+"s3-key", "", "s3 object key")
	f.StringVar(&s.S3.Endpoint, prefix+"s3-endpoint", "", "s3 endpoint (MinIO)")
	f.StringVar(&s.S3.Region, prefix+"s3-region", "", "s3 region")
	f.BoolVar(&s.S3.PathStyle, prefix+"s3-path-style", false, "path-style s3 addressing")
}

func bindLocation(cmd *cobra.Command, loc *string) {
	cmd.Flags().StringVar(loc, "location", config.Default().Location, "IANA time zone of the clinics")
}

func location(name string) (*time.Location, error) {
	return config.Config{Location: name}.TimeLocation()
}

// loadDB reads the snapshot of repo into a fresh aggregate.
func loadDB(ctx context.Context, repo repository.SnapshotRepository, log *zap.Logger) (*model.DB, *model.StoredSnapshot, error) {
	snap, err := repo.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	db := model.NewDB(model.WithLogger(log))
	if err := db.Load(snap.Document); err != nil {
		return nil, nil, err
	}
	return db, snap, nil
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

type inspectResult struct {
	Revision string         `json:"revision,omitempty"`
	Ver      int64          `json:"ver"`
	SavedAt  time.Time      `json:"saved_at"`
	Tables   map[string]int `json:"tables"`
}

func newInspectCommand(opts *RootOptions) *cobra.Command {
	var st config.Storage
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the revision and per-table counts of the latest snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutput(cmd, opts)
			log := out.logger(cmd)
			repo, err := backend.Open(cmd.Context(), st, log)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			snap, err := repo.Load(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := snap.Document.Counts()
			if err != nil {
				return err
			}
			res := inspectResult{Ver: snap.Ver, SavedAt: snap.SavedAt, Tables: counts}
			if snap.ID != uuid.Nil {
				res.Revision = snap.ID.String()
			}
			if out.format == "json" {
				return out.Print(res, "")
			}
			header := fmt.Sprintf("revision %s ver %d saved %s", res.Revision, res.Ver, res.SavedAt.Format(time.RFC3339))
			return out.Counts(header, counts)
		},
	}
	bindStorage(cmd, "", &st)
	return cmd
}

func newValidateCommand(opts *RootOptions) *cobra.Command {
	var st config.Storage
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the latest snapshot with relation resolution",
		Long: `Decode every table and resolve every relation of the latest snapshot.
Dangling references and malformed records fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutput(cmd, opts)
			log := out.logger(cmd)
			repo, err := backend.Open(cmd.Context(), st, log)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			db, _, err := loadDB(cmd.Context(), repo, log)
			if err != nil {
				return fmt.Errorf("invalid snapshot: %w", err)
			}
			stats := db.Stats()
			return out.Counts(fmt.Sprintf("valid, %d entities", total(stats)), stats)
		},
	}
	bindStorage(cmd, "", &st)
	return cmd
}

func newConvertCommand(opts *RootOptions) *cobra.Command {
	var from, to config.Storage
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Copy the latest snapshot to another backend",
		Example: `  ck convert --path db.json --to-storage sqlite --to-path clinic.sqlite
  ck convert --storage sqlite --path clinic.sqlite --to-storage s3 --to-s3-bucket clinic`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := newOutput(cmd, opts)
			log := out.logger(cmd)

			src, err := backend.Open(ctx, from, log)
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()
			db, _, err := loadDB(ctx, src, log)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			doc, err := db.Save()
			if err != nil {
				return err
			}

			dst, err := backend.Open(ctx, to, log)
			if err != nil {
				return err
			}
			defer func() { _ = dst.Close() }()
			rev, err := dst.Save(ctx, doc)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}
			return out.Print(map[string]any{"revision": rev.ID.String(), "ver": rev.Ver, "entities": total(db.Stats())},
				fmt.Sprintf("converted %d entities to %s, revision %s", total(db.Stats()), to.Driver, rev.ID))
		},
	}
	bindStorage(cmd, "", &from)
	bindStorage(cmd, "to-", &to)
	return cmd
}

func newSeedCommand(opts *RootOptions) *cobra.Command {
	var (
		st  config.Storage
		loc string
	)
	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Add clinics, specialities, schedules and doctors from a YAML fixture",
		Long: `Apply a fixture to the latest snapshot, or to an empty store when none
exists yet, and save the result. Clinics and specialities that already exist
are reused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newOutput(cmd, opts)
			log := out.logger(cmd)
			tz, err := location(loc)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			fixture, err := seed.Parse(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			repo, err := backend.Open(ctx, st, log)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()
			db, _, err := loadDB(ctx, repo, log)
			if errors.Is(err, errs.ErrNotFound) {
				db, err = model.NewDB(model.WithLogger(log)), nil
			}
			if err != nil {
				return err
			}

			res, err := seed.Apply(db, fixture, tz, log)
			if err != nil {
				return err
			}
			doc, err := db.Save()
			if err != nil {
				return err
			}
			rev, err := repo.Save(ctx, doc)
			if err != nil {
				return err
			}
			return out.Print(map[string]any{
				"revision":     rev.ID.String(),
				"clinics":      res.Clinics,
				"specialities": res.Specialities,
				"schedules":    res.Schedules,
				"doctors":      res.Doctors,
			}, fmt.Sprintf("seeded %d clinics, %d specialities, %d schedules, %d doctors",
				res.Clinics, res.Specialities, res.Schedules, res.Doctors))
		},
	}
	bindStorage(cmd, "", &st)
	bindLocation(cmd, &loc)
	return cmd
}

func newSlotsCommand(opts *RootOptions) *cobra.Command {
	var (
		st         config.Storage
		loc        string
		doctor     uint64
		speciality string
		day        string
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the free appointment slots of a doctor on a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := newOutput(cmd, opts)
			log := out.logger(cmd)
			tz, err := location(loc)
			if err != nil {
				return err
			}
			midnight, err := time.ParseInLocation(dayLayout, day, tz)
			if err != nil {
				return fmt.Errorf("--day: %w", err)
			}

			repo, err := backend.Open(ctx, st, log)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()
			db, _, err := loadDB(ctx, repo, log)
			if err != nil {
				return err
			}

			svc := service.NewBookingService(service.NewStore(db), tz, nil, log)
			sp, err := svc.SpecialityByTitle(ctx, speciality)
			if err != nil {
				return err
			}
			slots, err := svc.AvailableSlots(ctx, ident.ID(doctor), sp.ID, midnight)
			if err != nil {
				return err
			}
			if out.format == "json" {
				return out.Print(slots, "")
			}
			for _, s := range slots {
				if _, err := fmt.Fprintln(out.w, s.Format("15:04")); err != nil {
					return err
				}
			}
			return nil
		},
	}
	bindStorage(cmd, "", &st)
	bindLocation(cmd, &loc)
	cmd.Flags().Uint64Var(&doctor, "doctor", 0, "doctor id")
	cmd.Flags().StringVar(&speciality, "speciality", "", "speciality title")
	cmd.Flags().StringVar(&day, "day", "", "day as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("speciality")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}
