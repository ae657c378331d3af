package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/acai-shop/api/internal/platform/textutil"
	"github.com/acai-shop/api/internal/repositories"
)

const (
	maxDelivererNameLength = 120
	minPhoneDigits         = 8
	maxPhoneDigits         = 13
)

// DelivererServiceDeps bundles collaborators required to construct the deliverer service.
type DelivererServiceDeps struct {
	Deliverers repositories.DelivererRepository
	Orders     repositories.OrderRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type delivererService struct {
	deliverers repositories.DelivererRepository
	orders     repositories.OrderRepository
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ DelivererService = (*delivererService)(nil)

// NewDelivererService wires the deliverer management service.
func NewDelivererService(deps DelivererServiceDeps) (DelivererService, error) {
	if deps.Deliverers == nil {
		return nil, errors.New("deliverer service: deliverer repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("deliverer service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &delivererService{
		deliverers: deps.Deliverers,
		orders:     deps.Orders,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// List returns every deliverer with the number of delivered orders assigned to them.
func (s *delivererService) List(ctx context.Context) ([]Deliverer, error) {
	deliverers, err := s.deliverers.List(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "")
	}
	counts, err := s.orders.DeliveredCounts(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "")
	}
	for i := range deliverers {
		deliverers[i].TotalDeliveries = counts[deliverers[i].ID]
	}
	return deliverers, nil
}

func (s *delivererService) Get(ctx context.Context, delivererID int64) (Deliverer, error) {
	if delivererID <= 0 {
		return Deliverer{}, invalidField(ErrDelivererInvalidInput, "id", "deliverer id is required")
	}
	deliverer, err := s.deliverers.FindByID(ctx, delivererID)
	if err != nil {
		return Deliverer{}, mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "id")
	}
	counts, err := s.orders.DeliveredCounts(ctx)
	if err != nil {
		return Deliverer{}, mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "")
	}
	deliverer.TotalDeliveries = counts[deliverer.ID]
	return deliverer, nil
}

func (s *delivererService) Create(ctx context.Context, cmd UpsertDelivererCommand) (Deliverer, error) {
	deliverer, err := normaliseDeliverer(cmd)
	if err != nil {
		return Deliverer{}, err
	}
	deliverer.IsActive = true
	if cmd.IsActive != nil {
		deliverer.IsActive = *cmd.IsActive
	}
	deliverer.CreatedAt = s.clock()

	if err := s.ensurePhoneAvailable(ctx, deliverer.Phone, 0); err != nil {
		return Deliverer{}, err
	}
	created, err := s.deliverers.Insert(ctx, deliverer)
	if err != nil {
		return Deliverer{}, s.mapWriteError(err)
	}
	s.logger(ctx, "deliverer.created", map[string]any{"delivererId": created.ID})
	return created, nil
}

func (s *delivererService) Update(ctx context.Context, cmd UpsertDelivererCommand) (Deliverer, error) {
	if cmd.ID <= 0 {
		return Deliverer{}, invalidField(ErrDelivererInvalidInput, "id", "deliverer id is required")
	}
	updated, err := normaliseDeliverer(cmd)
	if err != nil {
		return Deliverer{}, err
	}
	current, err := s.deliverers.FindByID(ctx, cmd.ID)
	if err != nil {
		return Deliverer{}, mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "id")
	}
	if err := s.ensurePhoneAvailable(ctx, updated.Phone, current.ID); err != nil {
		return Deliverer{}, err
	}

	current.Name = updated.Name
	current.Phone = updated.Phone
	current.Email = updated.Email
	if cmd.IsActive != nil {
		current.IsActive = *cmd.IsActive
	}
	if err := s.deliverers.Update(ctx, current); err != nil {
		return Deliverer{}, s.mapWriteError(err)
	}
	s.logger(ctx, "deliverer.updated", map[string]any{"delivererId": current.ID})
	return current, nil
}

func (s *delivererService) ToggleActive(ctx context.Context, delivererID int64) (Deliverer, error) {
	if delivererID <= 0 {
		return Deliverer{}, invalidField(ErrDelivererInvalidInput, "id", "deliverer id is required")
	}
	deliverer, err := s.deliverers.FindByID(ctx, delivererID)
	if err != nil {
		return Deliverer{}, mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "id")
	}
	deliverer.IsActive = !deliverer.IsActive
	if err := s.deliverers.Update(ctx, deliverer); err != nil {
		return Deliverer{}, s.mapWriteError(err)
	}
	s.logger(ctx, "deliverer.toggled", map[string]any{"delivererId": deliverer.ID, "isActive": deliverer.IsActive})
	return deliverer, nil
}

// Delete removes the deliverer permanently. Orders keep their deliverer id.
func (s *delivererService) Delete(ctx context.Context, delivererID int64) error {
	if delivererID <= 0 {
		return invalidField(ErrDelivererInvalidInput, "id", "deliverer id is required")
	}
	if err := s.deliverers.Delete(ctx, delivererID); err != nil {
		return mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "id")
	}
	s.logger(ctx, "deliverer.deleted", map[string]any{"delivererId": delivererID})
	return nil
}

func (s *delivererService) ensurePhoneAvailable(ctx context.Context, phone string, ownerID int64) error {
	existing, err := s.deliverers.FindByPhone(ctx, phone)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "phone")
	}
	if existing.ID == ownerID {
		return nil
	}
	return phoneTaken(phone)
}

// mapWriteError reports unique-constraint races on the phone as phone conflicts.
func (s *delivererService) mapWriteError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return &ServiceError{Kind: ErrDelivererConflict, Field: "phone", Reason: ReasonPhoneTaken, Err: err}
	}
	return mapRepositoryError(err, ErrDelivererNotFound, ErrDelivererConflict, "id")
}

func phoneTaken(phone string) error {
	return &ServiceError{Kind: ErrDelivererConflict, Field: "phone", Reason: ReasonPhoneTaken,
		Message: "phone " + phone + " is already registered"}
}

func normaliseDeliverer(cmd UpsertDelivererCommand) (Deliverer, error) {
	name := textutil.PlainText(cmd.Name, maxDelivererNameLength)
	if name == "" {
		return Deliverer{}, invalidField(ErrDelivererInvalidInput, "name", "name is required")
	}
	phone := textutil.Digits(cmd.Phone)
	if phone == "" {
		return Deliverer{}, invalidField(ErrDelivererInvalidInput, "phone", "phone is required")
	}
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return Deliverer{}, invalidField(ErrDelivererInvalidInput, "phone", "phone must have between %d and %d digits", minPhoneDigits, maxPhoneDigits)
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return Deliverer{}, invalidField(ErrDelivererInvalidInput, "email", "email is invalid")
		}
	}
	return Deliverer{ID: cmd.ID, Name: name, Phone: phone, Email: email}, nil
}
