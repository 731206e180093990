package model

import (
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID             uint   `gorm:"primaryKey"`
	Email          string `gorm:"size:255;not null;uniqueIndex"`
	FirstName      string `gorm:"size:128"`
	LastName       string `gorm:"size:128"`
	HashedPassword string `gorm:"not null"`
	CreatedAt      time.Time
}

type EventRole string

const (
	RoleOrganizer      EventRole = "organizer"
	RoleCoorganizer    EventRole = "coorganizer"
	RoleTrackOrganizer EventRole = "track_organizer"
)

type UserEventRole struct {
	ID      uint      `gorm:"primaryKey"`
	UserID  uint      `gorm:"not null;uniqueIndex:idx_user_event_role"`
	EventID uint      `gorm:"not null;uniqueIndex:idx_user_event_role"`
	Role    EventRole `gorm:"type:varchar(32);not null;uniqueIndex:idx_user_event_role"`
}

type EventState string

const (
	EventDraft     EventState = "Draft"
	EventPublished EventState = "Published"
)

type Event struct {
	ID                 uint       `gorm:"primaryKey"`
	Identifier         string     `gorm:"size:64;not null;uniqueIndex"`
	Name               string     `gorm:"size:255;not null"`
	State              EventState `gorm:"type:varchar(16);not null;default:Draft"`
	Timezone           string     `gorm:"size:64"`
	PaymentCurrency    string     `gorm:"size:8;not null;default:USD"`
	HasSessionSpeakers bool       `gorm:"not null;default:false"`

	// Stripe Connect account, filled by the OAuth callback
	StripeUserID         string `gorm:"size:64"`
	StripeAccessToken    string `gorm:"size:255"`
	StripePublishableKey string `gorm:"size:255"`

	Sponsors  []Sponsor `gorm:"foreignKey:EventID"`
	Tickets   []Ticket  `gorm:"foreignKey:EventID"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type CFPPrivacy string

const (
	CFPPublic  CFPPrivacy = "public"
	CFPPrivate CFPPrivacy = "private"
)

var ErrInvertedWindow = errors.New("end date is before start date")

type CallForPaper struct {
	ID      uint `gorm:"primaryKey"`
	EventID uint `gorm:"not null;uniqueIndex"`
	// naive wall-clock times, interpreted in the event timezone and carried as UTC
	StartDate    time.Time  `gorm:"type:timestamp;not null"`
	EndDate      time.Time  `gorm:"type:timestamp;not null"`
	Announcement string     `gorm:"type:text"`
	Privacy      CFPPrivacy `gorm:"type:varchar(16);not null;default:public"`
	Hash         string     `gorm:"size:64;uniqueIndex"`
}

func (c *CallForPaper) BeforeSave(tx *gorm.DB) error {
	if c.EndDate.Before(c.StartDate) {
		return ErrInvertedWindow
	}
	return nil
}

type Ticket struct {
	ID       uint    `gorm:"primaryKey"`
	EventID  uint    `gorm:"not null;index"`
	Name     string  `gorm:"size:255;not null"`
	Price    float64 `gorm:"not null;default:0"`
	Quantity int     `gorm:"not null;default:0"`
	Position int     `gorm:"not null;default:0"`
	MinOrder int     `gorm:"not null;default:1"`
	MaxOrder int     `gorm:"not null;default:10"`
	// naive like the call for papers dates
	SalesStart time.Time `gorm:"type:timestamp"`
	SalesEnd   time.Time `gorm:"type:timestamp"`
	Hidden     bool      `gorm:"not null;default:false"`
}

type Sponsor struct {
	ID      uint   `gorm:"primaryKey"`
	EventID uint   `gorm:"not null;index"`
	Name    string `gorm:"size:255;not null"`
	URL     string `gorm:"size:512"`
	Logo    string `gorm:"size:512"`
	// empty level means unclassified
	Level string `gorm:"size:16"`
}

type OrderStatus string

const (
	OrderInitialized OrderStatus = "initialized"
	OrderPending     OrderStatus = "pending"
	OrderPlaced      OrderStatus = "placed"
	OrderCompleted   OrderStatus = "completed"
	OrderExpired     OrderStatus = "expired"
)

// OrderOpenStatuses are the statuses an order may still leave.
var OrderOpenStatuses = []OrderStatus{OrderInitialized, OrderPending}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderInitialized, OrderPending, OrderPlaced, OrderCompleted, OrderExpired:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderPlaced || s == OrderCompleted || s == OrderExpired
}

// Paid reports whether the order was finalized, with or without a gateway capture.
func (s OrderStatus) Paid() bool {
	return s == OrderPlaced || s == OrderCompleted
}

type PaymentMethod string

const (
	PayViaStripe PaymentMethod = "stripe"
	PayViaPayPal PaymentMethod = "paypal"
)

func (m PaymentMethod) Valid() bool {
	return m == PayViaStripe || m == PayViaPayPal
}

type Order struct {
	ID            uint          `gorm:"primaryKey"`
	Identifier    string        `gorm:"size:64;not null;uniqueIndex"`
	Status        OrderStatus   `gorm:"type:varchar(16);not null;index"`
	EventID       uint          `gorm:"not null;index"`
	Event         *Event        `gorm:"foreignKey:EventID"`
	UserID        *uint         `gorm:"index"`
	User          *User         `gorm:"foreignKey:UserID"`
	Amount        float64       `gorm:"not null;default:0"`
	DiscountCode  string        `gorm:"size:64"`
	PaidVia       PaymentMethod `gorm:"type:varchar(16)"`
	TransactionID string        `gorm:"size:128"`
	// PayPal order id while a checkout is open
	PayPalOrderID string         `gorm:"column:paypal_order_id;size:64"`
	Tickets       []OrderTicket  `gorm:"foreignKey:OrderID"`
	Holders       []TicketHolder `gorm:"foreignKey:OrderID"`
	CreatedAt     time.Time
	ExpiresAt     time.Time `gorm:"not null"`
	CompletedAt   *time.Time
}

func (o *Order) InvoiceNumber() string {
	return "O" + strconv.FormatInt(o.CreatedAt.Unix(), 10) + "-" + strconv.FormatUint(uint64(o.ID), 10)
}

type OrderTicket struct {
	ID       uint `gorm:"primaryKey"`
	OrderID  uint `gorm:"not null;index"`
	TicketID uint `gorm:"not null;index"`
	Quantity int  `gorm:"not null"`
}

type TicketHolder struct {
	ID               uint   `gorm:"primaryKey"`
	FirstName        string `gorm:"size:128"`
	LastName         string `gorm:"size:128"`
	Email            string `gorm:"size:255"`
	Address          string `gorm:"size:255"`
	City             string `gorm:"size:128"`
	State            string `gorm:"size:128"`
	Country          string `gorm:"size:128"`
	TicketID         uint   `gorm:"not null;index"`
	OrderID          uint   `gorm:"not null;index"`
	Order            *Order `gorm:"foreignKey:OrderID"`
	CheckedIn        bool   `gorm:"not null;default:false"`
	Occupation       string `gorm:"size:128"`
	OccupationDetail string `gorm:"size:255"`
	Expertise        string `gorm:"size:128"`
	Gender           string `gorm:"size:32"`
	WelcomeReception string `gorm:"size:32"`
	Recruitment      string `gorm:"size:32"`
}

var ErrMissingOrderReference = errors.New("ticket holder has no order")

// Name is "first last", or empty unless both parts are set.
func (h *TicketHolder) Name() string {
	if h.FirstName == "" || h.LastName == "" {
		return ""
	}
	return h.FirstName + " " + h.LastName
}

// QRPayload is the string encoded in the holder's ticket QR code.
func (h *TicketHolder) QRPayload() (string, error) {
	if h.Order == nil || h.Order.Identifier == "" {
		return "", ErrMissingOrderReference
	}
	return h.Order.Identifier + "-" + strconv.FormatUint(uint64(h.ID), 10), nil
}

type Speaker struct {
	ID      uint   `gorm:"primaryKey"`
	EventID uint   `gorm:"not null;index"`
	UserID  *uint  `gorm:"index"`
	Name    string `gorm:"size:255"`
	Email   string `gorm:"size:255;index"`

	// photo and its derivatives are always set or cleared together
	Photo     string `gorm:"size:512"`
	Small     string `gorm:"size:512"`
	Thumbnail string `gorm:"size:512"`
	Icon      string `gorm:"size:512"`

	ShortBiography      string `gorm:"type:text"`
	LongBiography       string `gorm:"type:text"`
	SpeakingExperience  string `gorm:"type:text"`
	Mobile              string `gorm:"size:64"`
	Website             string `gorm:"size:512"`
	Twitter             string `gorm:"size:512"`
	Facebook            string `gorm:"size:512"`
	Github              string `gorm:"size:512"`
	Linkedin            string `gorm:"size:512"`
	Organisation        string `gorm:"size:255"`
	Featured            bool   `gorm:"not null;default:false"`
	Position            string `gorm:"size:255"`
	Country             string `gorm:"size:128"`
	City                string `gorm:"size:128"`
	Gender              string `gorm:"size:32"`
	HeardFrom           string `gorm:"size:255"`
	SponsorshipRequired string `gorm:"type:text"`
	UpdatedAt           time.Time
}

type ImageSizes struct {
	ID              uint   `gorm:"primaryKey"`
	Type            string `gorm:"size:32;not null;uniqueIndex"`
	FullWidth       int    `gorm:"not null"`
	FullHeight      int    `gorm:"not null"`
	FullAspect      bool   `gorm:"not null;default:true"`
	IconWidth       int    `gorm:"not null"`
	IconHeight      int    `gorm:"not null"`
	IconAspect      bool   `gorm:"not null;default:true"`
	ThumbnailWidth  int    `gorm:"not null"`
	ThumbnailHeight int    `gorm:"not null"`
	ThumbnailAspect bool   `gorm:"not null;default:true"`
}

type ActivityLog struct {
	ID        uint   `gorm:"primaryKey"`
	ActorID   *uint  `gorm:"index"`
	EventID   uint   `gorm:"index"`
	Action    string `gorm:"size:64;not null"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}

type DiscountType string

const (
	DiscountAmount  DiscountType = "amount"
	DiscountPercent DiscountType = "percent"
)

type DiscountCode struct {
	ID       uint         `gorm:"primaryKey"`
	EventID  uint         `gorm:"not null;uniqueIndex:idx_discount_event_code"`
	Code     string       `gorm:"size:64;not null;uniqueIndex:idx_discount_event_code"`
	Type     DiscountType `gorm:"type:varchar(16);not null"`
	Value    float64      `gorm:"not null"`
	IsActive bool         `gorm:"not null;default:true"`
	// comma separated ticket ids the code applies to
	Tickets string `gorm:"size:512"`
}

type AccessCode struct {
	ID      uint   `gorm:"primaryKey"`
	EventID uint   `gorm:"not null;uniqueIndex:idx_access_event_code"`
	Code    string `gorm:"size:64;not null;uniqueIndex:idx_access_event_code"`
	Tickets string `gorm:"size:512"`
}

type FeeSetting struct {
	ID         uint    `gorm:"primaryKey"`
	Currency   string  `gorm:"size:8;not null;uniqueIndex"`
	ServiceFee float64 `gorm:"not null;default:0"`
	MaximumFee float64 `gorm:"not null;default:0"`
}

// All lists every model, in migration order.
func All() []any {
	return []any{
		&User{}, &Event{}, &UserEventRole{}, &CallForPaper{}, &Ticket{}, &Sponsor{},
		&Order{}, &OrderTicket{}, &TicketHolder{}, &Speaker{}, &ImageSizes{},
		&ActivityLog{}, &DiscountCode{}, &AccessCode{}, &FeeSetting{},
	}
}
