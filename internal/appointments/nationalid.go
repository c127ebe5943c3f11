package appointments

import (
	"strconv"
	"strings"
)

// NormalizeNationalID formats a Chilean RUT as "body-DV": dots removed,
// leading zeros dropped and the check digit upper-cased. Input that does not
// look like a RUT is returned trimmed.
func NormalizeNationalID(raw string) string {
	rut := strings.TrimSpace(strings.ReplaceAll(raw, ".", ""))
	if len(rut) < 2 {
		return rut
	}

	var body, dv string
	if i := strings.LastIndex(rut, "-"); i >= 0 {
		body, dv = rut[:i], rut[i+1:]
	} else {
		body, dv = rut[:len(rut)-1], rut[len(rut)-1:]
	}
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n <= 0 || len(strings.TrimSpace(dv)) != 1 {
		return rut
	}
	return strconv.Itoa(n) + "-" + strings.ToUpper(strings.TrimSpace(dv))
}
