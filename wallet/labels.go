package wallet

import (
	"strings"
	"unicode/utf8"
)

// Standard wallet fields, in display order.
const (
	FullName    = "full_name"
	CPF         = "cpf"
	Email       = "email"
	Phone       = "phone"
	BirthDate   = "birth_date"
	AddressLine = "address_line"
	City        = "city"
	State       = "state"
	PostalCode  = "postal_code"
)

var StandardSlugs = []string{FullName, CPF, Email, Phone, BirthDate, AddressLine, City, State, PostalCode}

var labels = map[string]string{
	FullName:    "Nome Completo",
	CPF:         "CPF",
	Email:       "E-mail",
	Phone:       "Telefone",
	BirthDate:   "Data de Nascimento",
	AddressLine: "Endereço",
	City:        "Cidade",
	State:       "Estado",
	PostalCode:  "CEP",
}

// Label returns the display label for a slug. Unknown slugs are shown with
// underscores replaced by spaces.
func Label(slug string) string {
	if l, ok := labels[slug]; ok {
		return l
	}
	return strings.ReplaceAll(slug, "_", " ")
}

// Mask hides most of a value for previews: the first two and last two
// characters stay visible.
func Mask(value string) string {
	n := utf8.RuneCountInString(value)
	if n <= 4 {
		return strings.Repeat("•", n)
	}

	runes := []rune(value)
	return string(runes[:2]) + strings.Repeat("•", n-4) + string(runes[n-2:])
}

// FormatValue formats a received value for display. CPF, phone, postal code and
// ISO birth dates get their usual Brazilian presentation; anything that does
// not look like the expected shape is returned unchanged.
func FormatValue(slug, value string) string {
	switch slug {
	case CPF:
		d := digits(value)
		if len(d) == 11 {
			return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11]
		}
	case Phone:
		d := digits(value)
		switch len(d) {
		case 11:
			return "(" + d[0:2] + ") " + d[2:7] + "-" + d[7:11]
		case 10:
			return "(" + d[0:2] + ") " + d[2:6] + "-" + d[6:10]
		}
	case PostalCode:
		d := digits(value)
		if len(d) == 8 {
			return d[0:5] + "-" + d[5:8]
		}
	case BirthDate:
		if len(value) == 10 && value[4] == '-' && value[7] == '-' {
			return value[8:10] + "/" + value[5:7] + "/" + value[0:4]
		}
	}
	return value
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
