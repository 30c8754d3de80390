package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	pickupDateLayout = "2006-01-02"
	pickupTimeLayout = "15:04"
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func commandValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			return lowerFirst(field.Name)
		})
	})
	return validate
}

// validateCommand runs struct tag validation and converts failures into a *ValidationError.
func validateCommand(cmd any) error {
	err := commandValidator().Struct(cmd)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out := &ValidationError{}
	for _, fe := range fieldErrs {
		out.add(fieldPath(fe.Namespace()), describeFieldError(fe))
	}
	return out
}

// normalizeCreateCommand trims every free-text field so whitespace-only values fail required checks.
func normalizeCreateCommand(cmd CreateOrderCommand) CreateOrderCommand {
	cmd.CustomerName = strings.TrimSpace(cmd.CustomerName)
	cmd.CustomerEmail = strings.TrimSpace(cmd.CustomerEmail)
	cmd.PaymentMethod = strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))

	d := &cmd.Delivery
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	d.Address = strings.TrimSpace(d.Address)
	d.City = strings.TrimSpace(d.City)
	d.Zip = strings.TrimSpace(d.Zip)
	d.LocationID = strings.TrimSpace(d.LocationID)
	d.Date = strings.TrimSpace(d.Date)
	d.Time = strings.TrimSpace(d.Time)

	if ec := cmd.EmergencyContact; ec != nil {
		cmd.EmergencyContact = &EmergencyContactInput{
			Name:  strings.TrimSpace(ec.Name),
			Phone: strings.TrimSpace(ec.Phone),
			Email: strings.TrimSpace(ec.Email),
		}
	}
	if len(cmd.Items) > 0 {
		items := make([]CartItemInput, len(cmd.Items))
		for i, item := range cmd.Items {
			items[i] = CartItemInput{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity}
		}
		cmd.Items = items
	}
	return cmd
}

// fieldPath drops the command type from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "datetime":
		switch fe.Param() {
		case pickupDateLayout:
			return "must be a date formatted YYYY-MM-DD"
		case pickupTimeLayout:
			return "must be a time formatted HH:MM"
		}
		return "must match " + fe.Param()
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("must be %s %s characters", bound, fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("must contain %s %s entries", bound, fe.Param())
		default:
			return fmt.Sprintf("must be %s %s", bound, fe.Param())
		}
	default:
		return "is invalid"
	}
}

func lowerFirst(name string) string {
	if name == "" {
		return name
	}
	if strings.HasSuffix(name, "ID") && len(name) > 2 {
		name = strings.TrimSuffix(name, "ID") + "Id"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// PickupHours is the daily pickup window in shop local time, formatted HH:MM.
type PickupHours struct {
	Open  string
	Close string
}

type pickupWindow struct {
	open  int
	close int
}

func parsePickupHours(hours PickupHours) (pickupWindow, error) {
	if strings.TrimSpace(hours.Open) == "" {
		hours.Open = "09:00"
	}
	if strings.TrimSpace(hours.Close) == "" {
		hours.Close = "18:00"
	}
	open, err := minutesOfDay(hours.Open)
	if err != nil {
		return pickupWindow{}, fmt.Errorf("pickup open hour: %w", err)
	}
	closeAt, err := minutesOfDay(hours.Close)
	if err != nil {
		return pickupWindow{}, fmt.Errorf("pickup close hour: %w", err)
	}
	if closeAt <= open {
		return pickupWindow{}, fmt.Errorf("pickup close %s must be after open %s", hours.Close, hours.Open)
	}
	return pickupWindow{open: open, close: closeAt}, nil
}

func (w pickupWindow) contains(minutes int) bool {
	return minutes >= w.open && minutes <= w.close
}

func minutesOfDay(value string) (int, error) {
	t, err := time.Parse(pickupTimeLayout, strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// validatePickupSlot checks the date is today or later in loc and the time falls within the window.
func validatePickupSlot(date, clock string, now time.Time, loc *time.Location, window pickupWindow) error {
	verr := &ValidationError{}
	day, err := time.ParseInLocation(pickupDateLayout, date, loc)
	if err != nil {
		verr.add("delivery.date", "must be a date formatted YYYY-MM-DD")
	} else {
		local := now.In(loc)
		today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		if day.Before(today) {
			verr.add("delivery.date", "must be today or later")
		}
	}
	minutes, err := minutesOfDay(clock)
	if err != nil {
		verr.add("delivery.time", "must be a time formatted HH:MM")
	} else if !window.contains(minutes) {
		verr.add("delivery.time", "must be within pickup hours")
	}
	return verr.errOrNil()
}
