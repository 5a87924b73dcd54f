// Package normalize turns raw exports into output. Json records are shaped into the
// canonical transaction table, bank produced files only get their charset fixed.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"banksync/internal/banksync/failure"
	"banksync/internal/components/chrono"
	"banksync/internal/components/telemetry"

	"github.com/shopspring/decimal"
)

const (
	report_normalize_duplicate = "normalize.duplicate"
	report_normalize_dropped   = "normalize.dropped"
)

const statusPending = "pending"

// EmptyResultMarker is written instead of a table when the bank reported an empty result.
const EmptyResultMarker = "EMPTY\n"

// Columns is the header of the canonical table, in output order.
var Columns = []string{
	"id",
	"status",
	"booking_date",
	"value_date",
	"currency",
	"amount",
	"description",
	"counterparty_name",
	"counterparty_iban",
	"transaction_type",
}

type Row struct {
	Id               string
	Status           string
	BookingDate      string
	ValueDate        string
	Currency         string
	Amount           string
	Description      string
	CounterpartyName string
	CounterpartyIBAN string
	TransactionType  string
}

func (r Row) Values() []string {
	return []string{
		r.Id,
		r.Status,
		r.BookingDate,
		r.ValueDate,
		r.Currency,
		r.Amount,
		r.Description,
		r.CounterpartyName,
		r.CounterpartyIBAN,
		r.TransactionType,
	}
}

// Flatten turns a transaction record into dotted keys, the attributes object is merged
// into the top level next to the id.
func Flatten(record map[string]any) map[string]string {
	out := map[string]string{}
	for k, v := range record {
		if k == "attributes" {
			if attributes, ok := v.(map[string]any); ok {
				flattenInto(out, "", attributes)
				continue
			}
		}
		flattenInto(out, "", map[string]any{k: v})
	}
	return out
}

func flattenInto(out map[string]string, prefix string, values map[string]any) {
	for k, v := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case map[string]any:
			flattenInto(out, key, v)
		case nil:
			out[key] = ""
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		default:
			out[key] = fmt.Sprint(v)
		}
	}
}

// Normalizer shapes json records into rows for one scope. From and To are compared as
// calendar dates, their clock part and location only pick the day.
type Normalizer struct {
	From time.Time
	To   time.Time
	tel  telemetry.API
}

func NewNormalizer(from, to time.Time, tel telemetry.API) Normalizer {
	return Normalizer{From: from, To: to, tel: telemetry.NewScopedAPI("normalize", tel)}
}

func malformed(index int, format string, args ...any) error {
	return failure.New(failure.KindMalformedPayload, "", fmt.Sprintf("record %d: ", index)+fmt.Sprintf(format, args...))
}

func requireFields(index int, fields map[string]string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return malformed(index, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Records converts json transaction records into rows. Pending records and records with a
// value date outside the scope are dropped, so are repeated ids after their first
// occurrence.
func (n Normalizer) Records(records []map[string]any) ([]Row, error) {
	from, to := chrono.Date(n.From), chrono.Date(n.To)
	rows := make([]Row, 0, len(records))
	seen := map[string]bool{}
	dropped := 0

	for i, record := range records {
		fields := Flatten(record)
		if err := requireFields(i, fields, "id", "status"); err != nil {
			return nil, err
		}
		if fields["status"] == statusPending {
			dropped++
			continue
		}
		if err := requireFields(i, fields, "valueDate", "amount.value", "amount.currencyCode"); err != nil {
			return nil, err
		}

		valueDate, err := time.Parse(time.DateOnly, fields["valueDate"])
		if err != nil {
			return nil, malformed(i, "value date %q: %s", fields["valueDate"], err)
		}
		if valueDate.Before(from) || (!n.To.IsZero() && valueDate.After(to)) {
			dropped++
			continue
		}

		amount, err := decimal.NewFromString(fields["amount.value"])
		if err != nil {
			return nil, malformed(i, "amount %q: %s", fields["amount.value"], err)
		}

		id := fields["id"]
		if seen[id] {
			n.tel.ReportWarning(report_normalize_duplicate, id)
			continue
		}
		seen[id] = true

		party := "creditor"
		if amount.IsPositive() {
			party = "debtor"
		}

		rows = append(rows, Row{
			Id:               id,
			Status:           fields["status"],
			BookingDate:      fields["bookingDate"],
			ValueDate:        fields["valueDate"],
			Currency:         fields["amount.currencyCode"],
			Amount:           fields["amount.value"],
			Description:      fields["description"],
			CounterpartyName: fields[party+".name"],
			CounterpartyIBAN: fields[party+"."+party+"Account.iban"],
			TransactionType:  fields["transactionType"],
		})
	}

	n.tel.ReportDebug(report_normalize_dropped, dropped, len(rows))
	return rows, nil
}
