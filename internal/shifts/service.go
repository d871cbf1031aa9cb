// Package shifts manages the time windows during which staff may claim
// tables.
package shifts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/store"
)

// DefaultDuration is the shift length when none is requested.
const DefaultDuration = 10 * time.Hour

type Service struct {
	store store.Store
	clock clock.Clock
	log   *logger.Logger
	newID func() string
}

func New(st store.Store, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.New("shifts")
	}
	return &Service{store: st, clock: clk, log: log, newID: uuid.NewString}
}

// Start opens a shift for the staff member. Idempotent: when a shift is
// already active the existing one is returned unchanged.
func (s *Service) Start(ctx context.Context, staff domain.Staff, d time.Duration) (domain.Shift, error) {
	if d <= 0 {
		d = DefaultDuration
	}
	var shift domain.Shift
	err := s.store.Update(ctx, func(tx store.Tx) error {
		now := s.clock.Now().UTC()
		if existing, ok, err := tx.ActiveShift(staff.ID, now); err != nil {
			return err
		} else if ok {
			shift = existing
			return nil
		}
		shift = domain.Shift{
			ID:        s.newID(),
			StaffID:   staff.ID,
			StaffName: staff.Name,
			StartTime: now,
			EndTime:   now.Add(d),
		}
		return tx.PutShift(shift)
	})
	if err != nil {
		return domain.Shift{}, err
	}
	s.log.Info("shift_started", map[string]any{"staff_id": staff.ID, "shift_id": shift.ID})
	return shift, nil
}

// End deletes the active shift for the staff member, closing the claim
// window immediately. Fails with ErrNotFound when none is active.
func (s *Service) End(ctx context.Context, staffID string) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		shift, ok, err := tx.ActiveShift(staffID, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: no active shift for staff %s", domain.ErrNotFound, staffID)
		}
		return tx.DeleteShift(shift.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("shift_ended", map[string]any{"staff_id": staffID})
	return nil
}

// ActiveFor reports the shift currently covering the staff member, if any.
func (s *Service) ActiveFor(ctx context.Context, staffID string) (domain.Shift, bool, error) {
	var (
		shift domain.Shift
		ok    bool
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		shift, ok, err = tx.ActiveShift(staffID, s.clock.Now().UTC())
		return err
	})
	if err != nil {
		return domain.Shift{}, false, err
	}
	return shift, ok, nil
}
