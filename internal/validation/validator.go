package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// terms and amount precision checks for InitiatePaymentRequest
	v.RegisterStructValidation(initiatePaymentStructValidation, InitiatePaymentRequest{})

	return v
}

func initiatePaymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(InitiatePaymentRequest)

	if req.TermsAccepted != nil && !*req.TermsAccepted {
		sl.ReportError(req.TermsAccepted, "terms_accepted", "TermsAccepted", "terms_accepted", "")
	}

	// amounts are charged in paise
	paise := req.Amount * 100
	if math.Abs(paise-math.Round(paise)) > 1e-6 {
		sl.ReportError(req.Amount, "amount", "Amount", "amount_precision", fmt.Sprintf("%.4f", req.Amount))
	}
}

// NormalizeMethod maps accepted method spellings onto gateway or cod.
func NormalizeMethod(m string) string {
	if m == "cod" {
		return "cod"
	}
	return "gateway"
}
