package orders

import "strings"

// PaymentMethodCOD is the persisted literal for cash on delivery.
const PaymentMethodCOD = "contraentrega"

const MaxReceiptRefLen = 2048

var codAliases = map[string]bool{
	PaymentMethodCOD:   true,
	"cod":              true,
	"cash_on_delivery": true,
	"cash-on-delivery": true,
}

// NormalizeMethod lower-cases and trims a payment method, folding COD aliases.
func NormalizeMethod(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if codAliases[m] {
		return PaymentMethodCOD
	}
	return m
}

func IsCOD(m string) bool { return NormalizeMethod(m) == PaymentMethodCOD }

func initialStatus(method string) Status {
	if IsCOD(method) {
		return StatusPendingDelivery
	}
	return StatusPendingPayment
}
