package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/square"
)

// CardGateway is the slice of the payment gateway used to vault student cards.
type CardGateway interface {
	CreateCustomer(ctx context.Context, params square.CustomerCreateParams) (*sq.Customer, error)
	CreateCard(ctx context.Context, params square.CardCreateParams) (*sq.Card, error)
}

// Service is the tenant directory: companies, resource owners, their weekly
// availability and per-lesson-type policies.
type Service interface {
	Company(ctx context.Context, id uuid.UUID) (*models.Company, error)
	Location(ctx context.Context, companyID uuid.UUID) (*time.Location, error)
	ResolveBookingResources(ctx context.Context, params ResolveParams) (*BookingResources, error)
	OwnerActive(ctx context.Context, companyID uuid.UUID, ownerType enums.OwnerType, ownerID uuid.UUID) (bool, error)
	SetAvailability(ctx context.Context, params AvailabilityParams) error
	SetLessonPolicy(ctx context.Context, params PolicyParams) error
	RegisterPaymentCard(ctx context.Context, params RegisterCardParams) (*CardRefs, error)
}

type service struct {
	repo    Repository
	gateway CardGateway
}

// Params wires the directory dependencies. Gateway may be nil when the
// install runs without payments.
type Params struct {
	Repo    Repository
	Gateway CardGateway
}

// ResolveParams identifies the three resources an appointment binds.
type ResolveParams struct {
	CompanyID    uuid.UUID
	StudentID    uuid.UUID
	InstructorID uuid.UUID
	VehicleID    uuid.UUID
}

// BookingResources is the validated triple.
type BookingResources struct {
	Student    models.Student
	Instructor models.Instructor
	Vehicle    models.Vehicle
}

// AvailabilityParams defines a weekly recurring window for one owner.
type AvailabilityParams struct {
	CompanyID   uuid.UUID
	OwnerType   enums.OwnerType
	OwnerID     uuid.UUID
	WeekdayMask int
	StartMinute int
	EndMinute   int
}

// PolicyParams restricts a lesson type to a sub-window of the day.
type PolicyParams struct {
	CompanyID   uuid.UUID
	LessonType  enums.LessonType
	StartMinute int
	EndMinute   int
}

// RegisterCardParams holds the one-time card nonce collected client side.
type RegisterCardParams struct {
	CompanyID         uuid.UUID
	StudentID         uuid.UUID
	SourceID          string
	VerificationToken string
}

// CardRefs are the stored gateway identifiers.
type CardRefs struct {
	CustomerID string
	CardID     string
}

// NewService wires the directory dependencies.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory repository required")
	}
	return &service{repo: p.Repo, gateway: p.Gateway}, nil
}

func (s *service) Company(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}
	company, err := s.repo.GetCompany(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load company")
	}
	if company == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "company not found")
	}
	return company, nil
}

func (s *service) Location(ctx context.Context, companyID uuid.UUID) (*time.Location, error) {
	company, err := s.Company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(company.Timezone)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("invalid company timezone %q", company.Timezone))
	}
	return loc, nil
}

func (s *service) ResolveBookingResources(ctx context.Context, params ResolveParams) (*BookingResources, error) {
	if params.CompanyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}

	student, err := s.repo.GetStudent(ctx, params.CompanyID, params.StudentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}
	if student == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}
	if !student.Active {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidResource, "student is inactive")
	}

	instructor, err := s.repo.GetInstructor(ctx, params.CompanyID, params.InstructorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load instructor")
	}
	if instructor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "instructor not found")
	}
	if !instructor.Active {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidResource, "instructor is inactive")
	}

	vehicle, err := s.repo.GetVehicle(ctx, params.CompanyID, params.VehicleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vehicle")
	}
	if vehicle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vehicle not found")
	}
	if !vehicle.Active {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidResource, "vehicle is inactive")
	}

	return &BookingResources{
		Student:    *student,
		Instructor: *instructor,
		Vehicle:    *vehicle,
	}, nil
}

func (s *service) OwnerActive(ctx context.Context, companyID uuid.UUID, ownerType enums.OwnerType, ownerID uuid.UUID) (bool, error) {
	switch ownerType {
	case enums.OwnerTypeStudent:
		student, err := s.repo.GetStudent(ctx, companyID, ownerID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
		}
		return student != nil && student.Active, nil
	case enums.OwnerTypeInstructor:
		instructor, err := s.repo.GetInstructor(ctx, companyID, ownerID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load instructor")
		}
		return instructor != nil && instructor.Active, nil
	case enums.OwnerTypeVehicle:
		vehicle, err := s.repo.GetVehicle(ctx, companyID, ownerID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vehicle")
		}
		return vehicle != nil && vehicle.Active, nil
	default:
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown owner type %q", ownerType))
	}
}

func (s *service) SetAvailability(ctx context.Context, params AvailabilityParams) error {
	if params.CompanyID == uuid.Nil || params.OwnerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "company and owner ids required")
	}
	if !params.OwnerType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown owner type %q", params.OwnerType))
	}
	if err := validateMinuteRange(params.StartMinute, params.EndMinute); err != nil {
		return err
	}
	if params.WeekdayMask <= 0 || params.WeekdayMask >= 1<<7 {
		return pkgerrors.New(pkgerrors.CodeValidation, "weekday mask must select at least one weekday")
	}

	err := s.repo.UpsertAvailabilityWindow(ctx, models.AvailabilityWindow{
		CompanyID:   params.CompanyID,
		OwnerType:   params.OwnerType,
		OwnerID:     params.OwnerID,
		WeekdayMask: params.WeekdayMask,
		StartMinute: params.StartMinute,
		EndMinute:   params.EndMinute,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save availability window")
	}
	return nil
}

func (s *service) SetLessonPolicy(ctx context.Context, params PolicyParams) error {
	if params.CompanyID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}
	if !params.LessonType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown lesson type %q", params.LessonType))
	}
	if err := validateMinuteRange(params.StartMinute, params.EndMinute); err != nil {
		return err
	}

	err := s.repo.UpsertLessonPolicy(ctx, models.LessonPolicy{
		CompanyID:   params.CompanyID,
		LessonType:  params.LessonType,
		StartMinute: params.StartMinute,
		EndMinute:   params.EndMinute,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save lesson policy")
	}
	return nil
}

func (s *service) RegisterPaymentCard(ctx context.Context, params RegisterCardParams) (*CardRefs, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotConfigured, "payment gateway is not configured")
	}
	if strings.TrimSpace(params.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card source id required")
	}

	student, err := s.repo.GetStudent(ctx, params.CompanyID, params.StudentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}
	if student == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}

	customerID := ""
	if student.GatewayCustomerID != nil {
		customerID = *student.GatewayCustomerID
	}
	if customerID == "" {
		customer, err := s.gateway.CreateCustomer(ctx, square.CustomerCreateParams{
			Email:       student.Email,
			GivenName:   student.FirstName,
			FamilyName:  student.LastName,
			ReferenceID: fmt.Sprintf("dh:student:%s", student.ID),
		})
		if err != nil {
			return nil, err
		}
		if customer == nil || customer.GetID() == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway customer id missing")
		}
		customerID = *customer.GetID()
	}

	card, err := s.gateway.CreateCard(ctx, square.CardCreateParams{
		CustomerID:        customerID,
		SourceID:          params.SourceID,
		CardholderName:    strings.TrimSpace(student.FirstName + " " + student.LastName),
		ReferenceID:       fmt.Sprintf("dh:student:%s", student.ID),
		VerificationToken: params.VerificationToken,
	})
	if err != nil {
		return nil, err
	}
	if card == nil || card.GetID() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway card id missing")
	}
	cardID := *card.GetID()

	if err := s.repo.SaveStudentGatewayRefs(ctx, student.ID, customerID, cardID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save gateway refs")
	}

	return &CardRefs{CustomerID: customerID, CardID: cardID}, nil
}

func validateMinuteRange(start, end int) error {
	if start < 0 || end > 24*60 || start >= end {
		return pkgerrors.New(pkgerrors.CodeValidation, "minute range must satisfy 0 <= start < end <= 1440")
	}
	return nil
}
