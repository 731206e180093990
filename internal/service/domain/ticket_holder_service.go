package domain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

// qrSize is the side of the generated QR image in pixels.
const qrSize = 256

// EncodeTicketQR renders the holder's QR payload as a base64 PNG at
// error-correction level Low.
func EncodeTicketQR(holder *model.TicketHolder) (string, error) {
	payload, err := holder.QRPayload()
	if err != nil {
		return "", err
	}
	png, err := qrcode.Encode(payload, qrcode.Low, qrSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// ParseQRPayload splits "<order identifier>-<holder id>". The identifier
// itself may contain dashes.
func ParseQRPayload(payload string) (string, uint, error) {
	i := strings.LastIndexByte(payload, '-')
	if i <= 0 || i == len(payload)-1 {
		return "", 0, service.ValidationError("payload", "is malformed")
	}
	id, err := strconv.ParseUint(payload[i+1:], 10, 64)
	if err != nil || id == 0 {
		return "", 0, service.ValidationError("payload", "is malformed")
	}
	return payload[:i], uint(id), nil
}

// checkInRoles may scan tickets at the door.
var checkInRoles = []model.EventRole{model.RoleOrganizer, model.RoleCoorganizer, model.RoleTrackOrganizer}

type TicketHolderService interface {
	GetByID(ctx context.Context, id uint) (*model.TicketHolder, error)
	// QRCode is only served for holders of the paid order named by orderIdentifier.
	QRCode(ctx context.Context, orderIdentifier string, id uint) (string, error)
	// CheckIn marks the holder named by a scanned QR payload as arrived. The
	// viewer must organize the holder's event.
	CheckIn(ctx context.Context, viewer uint, payload string) (*model.TicketHolder, error)
}

type ticketHolderService struct {
	repo      repository.TicketHolderRepo
	eventRepo repository.EventRepo
	logger    *zap.Logger
}

var _ TicketHolderService = (*ticketHolderService)(nil)

func NewTicketHolderService(holderRepo repository.TicketHolderRepo, eventRepo repository.EventRepo, logger *zap.Logger) *ticketHolderService {
	return &ticketHolderService{
		repo:      holderRepo,
		eventRepo: eventRepo,
		logger:    logger,
	}
}

func (s *ticketHolderService) GetByID(ctx context.Context, id uint) (*model.TicketHolder, error) {
	holder, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return holder, nil
}

// holderOfOrder loads holder id and hides it unless it belongs to the order
// named by identifier.
func (s *ticketHolderService) holderOfOrder(ctx context.Context, identifier string, id uint) (*model.TicketHolder, error) {
	holder, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if identifier == "" || holder.Order == nil || holder.Order.Identifier != identifier {
		return nil, service.ErrNotFound
	}
	return holder, nil
}

func (s *ticketHolderService) QRCode(ctx context.Context, orderIdentifier string, id uint) (string, error) {
	holder, err := s.holderOfOrder(ctx, orderIdentifier, id)
	if err != nil {
		return "", err
	}
	if !holder.Order.Status.Paid() {
		return "", service.ErrNotFound
	}
	return EncodeTicketQR(holder)
}

func (s *ticketHolderService) CheckIn(ctx context.Context, viewer uint, payload string) (*model.TicketHolder, error) {
	identifier, id, err := ParseQRPayload(strings.TrimSpace(payload))
	if err != nil {
		return nil, err
	}
	holder, err := s.holderOfOrder(ctx, identifier, id)
	if err != nil {
		return nil, err
	}
	if viewer == 0 {
		return nil, service.ErrForbidden
	}
	allowed, err := s.eventRepo.HasAnyRole(ctx, viewer, holder.Order.EventID, checkInRoles...)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, service.ErrForbidden
	}
	if !holder.Order.Status.Paid() {
		return nil, service.ValidationError("order", "is not paid")
	}

	checked, err := s.repo.MarkCheckedIn(ctx, holder.ID)
	if err != nil {
		return nil, err
	}
	if !checked {
		return nil, service.ErrAlreadyCheckedIn
	}
	holder.CheckedIn = true
	s.logger.Info("ticket holder checked in",
		zap.Uint("holder", holder.ID), zap.String("order", identifier), zap.Uint("by", viewer))
	return holder, nil
}
