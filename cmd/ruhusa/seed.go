package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load employees, PTO balances and calendar events from a YAML file",
	Long: `Load reference data into the configured database. Records are upserted,
so running the same file twice leaves the database unchanged.

  employees:
    - id: E100
      name: Dana Okafor
      email: dana@example.com
      tier: senior
      manager_id: E001
      hire_date: 2021-04-12
      department: Finance
      balance: {accrued: 22, used: 4}
  calendar:
    - kind: holiday
      name: New Year's Day
      start: 2027-01-01
      end: 2027-01-01`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

type seedFile struct {
	Employees []seedEmployee `yaml:"employees"`
	Calendar  []seedEvent    `yaml:"calendar"`
}

type seedEmployee struct {
	ID         string       `yaml:"id"`
	Name       string       `yaml:"name"`
	Email      string       `yaml:"email"`
	Tier       string       `yaml:"tier"`
	ManagerID  string       `yaml:"manager_id"`
	HireDate   string       `yaml:"hire_date"`
	Department string       `yaml:"department"`
	Balance    *seedBalance `yaml:"balance"`
}

type seedBalance struct {
	Accrued float64 `yaml:"accrued"`
	Used    float64 `yaml:"used"`
}

type seedEvent struct {
	Kind  string `yaml:"kind"`
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"` // Empty = same as start.
}

// seedData is a validated seed file.
type seedData struct {
	Employees []domain.Employee
	Balances  []domain.Balance
	Calendar  []domain.CalendarEvent
}

func runSeed(_ *cobra.Command, args []string) error {
	_, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	data, err := parseSeed(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := applySeed(ctx, store, data); err != nil {
		return err
	}
	logger.Info("seed applied",
		slog.String("file", args[0]),
		slog.Int("employees", len(data.Employees)),
		slog.Int("balances", len(data.Balances)),
		slog.Int("calendar_events", len(data.Calendar)),
	)
	return nil
}

// parseSeed decodes and validates a seed file. Every problem is reported,
// not only the first.
func parseSeed(raw []byte) (*seedData, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	var (
		out  seedData
		errs []error
		ids  = make(map[string]bool, len(f.Employees))
	)
	for i, se := range f.Employees {
		if se.ID == "" || se.Name == "" {
			errs = append(errs, fmt.Errorf("employees[%d]: id and name are required", i))
			continue
		}
		if ids[se.ID] {
			errs = append(errs, fmt.Errorf("employees[%d]: duplicate id %s", i, se.ID))
			continue
		}
		ids[se.ID] = true

		e := domain.Employee{
			ID:         se.ID,
			Name:       se.Name,
			Email:      se.Email,
			Tier:       domain.Tier(se.Tier),
			ManagerID:  se.ManagerID,
			Department: se.Department,
		}
		if e.Tier == "" {
			e.Tier = domain.TierJunior
		}
		if !e.Tier.Valid() {
			errs = append(errs, fmt.Errorf("employees[%d]: unknown tier %q", i, se.Tier))
		}
		if se.HireDate != "" {
			d, err := domain.ParseDate(se.HireDate)
			if err != nil {
				errs = append(errs, fmt.Errorf("employees[%d].hire_date: %w", i, err))
			}
			e.HireDate = d
		}
		if se.ManagerID == se.ID {
			errs = append(errs, fmt.Errorf("employees[%d]: %s cannot manage themselves", i, se.ID))
		}
		out.Employees = append(out.Employees, e)

		if b := se.Balance; b != nil {
			if b.Accrued < 0 || b.Used < 0 {
				errs = append(errs, fmt.Errorf("employees[%d].balance: days must not be negative", i))
			}
			out.Balances = append(out.Balances, domain.Balance{
				EmployeeID: se.ID,
				Accrued:    b.Accrued,
				Used:       b.Used,
				Current:    b.Accrued - b.Used,
			})
		}
	}

	for i, sv := range f.Calendar {
		ev := domain.CalendarEvent{Kind: domain.EventKind(sv.Kind), Name: sv.Name}
		if ev.Kind != domain.EventHoliday && ev.Kind != domain.EventBlackout {
			errs = append(errs, fmt.Errorf("calendar[%d]: kind must be holiday or blackout", i))
		}
		if ev.Name == "" {
			errs = append(errs, fmt.Errorf("calendar[%d]: name is required", i))
		}
		start, err := domain.ParseDate(sv.Start)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar[%d].start: %w", i, err))
			continue
		}
		end := start
		if sv.End != "" {
			if end, err = domain.ParseDate(sv.End); err != nil {
				errs = append(errs, fmt.Errorf("calendar[%d].end: %w", i, err))
				continue
			}
		}
		if end.Before(start) {
			errs = append(errs, fmt.Errorf("calendar[%d]: end is before start", i))
		}
		ev.Start, ev.End = start, end
		ev.ID = calendarEventID(ev)
		out.Calendar = append(out.Calendar, ev)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid seed file:\n%w", err)
	}
	return &out, nil
}

// calendarEventID derives a stable ID so reseeding updates instead of duplicating.
func calendarEventID(ev domain.CalendarEvent) uuid.UUID {
	key := string(ev.Kind) + "|" + ev.Name + "|" + domain.FormatDate(ev.Start)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
}

// applySeed upserts everything in one transaction.
func applySeed(ctx context.Context, store storage.Store, data *seedData) error {
	return store.WithinTx(ctx, func(tx storage.Store) error {
		for i := range data.Employees {
			if err := tx.Employees().Upsert(ctx, &data.Employees[i]); err != nil {
				return err
			}
		}
		for i := range data.Balances {
			if err := tx.Balances().Upsert(ctx, &data.Balances[i]); err != nil {
				return err
			}
		}
		for i := range data.Calendar {
			if err := tx.Calendar().Upsert(ctx, &data.Calendar[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
