package trade

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/wallet"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json names so errors match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Decimals are compared as floats for tags like gt=0 only; money math
	// never leaves decimal.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	return v
}

// check validates a request struct and reports the first failing field as
// an InvalidTradeError.
func check(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return wallet.Invalid("request", err.Error())
	}

	e := verrs[0]
	switch e.Tag() {
	case "required":
		return wallet.Invalid(e.Field(), "is required")
	case "gt":
		return wallet.Invalid(e.Field(), "must be positive")
	case "max":
		return wallet.Invalid(e.Field(), "must be at most "+e.Param()+" characters")
	case "printascii":
		return wallet.Invalid(e.Field(), "must be printable ASCII")
	default:
		return wallet.Invalid(e.Field(), "failed "+e.Tag()+" check")
	}
}
